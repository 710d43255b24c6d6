package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	drepo "TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/pkg/logger"
)

// TickTriggerHandler runs a tick for every message on the trigger topic.
// It implements pkg/kafka.MessageHandler.
type TickTriggerHandler struct {
	topic   string
	runner  TickRunner
	metrics drepo.Metrics
	log     *logger.Logger
	timeout time.Duration
}

// NewTickTriggerHandler runs each tick detached from the consumer context, bounded
// by timeout, so stopping the consumer never aborts a tick halfway.
func NewTickTriggerHandler(topic string, runner TickRunner, metrics drepo.Metrics, log *logger.Logger, timeout time.Duration) *TickTriggerHandler {
	return &TickTriggerHandler{
		timeout: timeout,
		topic:   topic,
		runner:  runner,
		metrics: metrics,
		log:     log.With(logger.String("component", "tick_trigger")),
	}
}

func (h *TickTriggerHandler) Topic() string { return h.topic }

// Handle accepts an empty body or {"reason": "..."}. A trigger that lands while a tick
// is running is dropped, not retried.
func (h *TickTriggerHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Reason string `json:"reason"`
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &m); err != nil {
			h.metrics.RecordError("trigger_unmarshal")
			return fmt.Errorf("decode trigger: %w", err)
		}
	}

	tickCtx, cancel := DetachTick(ctx, h.timeout)
	defer cancel()
	res, err := h.runner.RunTick(tickCtx)
	if errors.Is(err, ErrTickInProgress) {
		h.log.Debug("trigger dropped, tick in progress", logger.String("reason", m.Reason))
		return nil
	}
	if err != nil {
		h.metrics.RecordError("trigger_tick")
		return err
	}
	h.log.Debug("triggered tick completed",
		logger.String("reason", m.Reason),
		logger.String("tick_id", res.TickID),
	)
	return nil
}
