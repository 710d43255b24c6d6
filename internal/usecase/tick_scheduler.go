package usecase

import (
	"context"
	"errors"
	"time"

	"TradeAlchemist/internal/domain/models"
	drepo "TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/pkg/logger"
)

// TickRunner runs one tick. *Orchestrator satisfies it.
type TickRunner interface {
	RunTick(ctx context.Context) (*models.TickResult, error)
}

// TickScheduler triggers a tick on a fixed interval.
type TickScheduler struct {
	runner   TickRunner
	interval time.Duration
	metrics  drepo.Metrics
	log      *logger.Logger
}

func NewTickScheduler(runner TickRunner, interval time.Duration, metrics drepo.Metrics, log *logger.Logger) *TickScheduler {
	return &TickScheduler{
		runner:   runner,
		interval: interval,
		metrics:  metrics,
		log:      log.With(logger.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled. A failed or rejected tick never stops the loop.
func (s *TickScheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("tick scheduler started", logger.Duration("interval_ms", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("tick scheduler stopped")
			return nil
		case <-t.C:
			s.fire(ctx)
		}
	}
}

func (s *TickScheduler) fire(ctx context.Context) {
	_, err := s.runner.RunTick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrTickInProgress):
		s.metrics.RecordError("tick_rejected")
		s.log.Debug("tick skipped, previous tick still running")
	case errors.Is(err, ErrMarketNotInitialized):
		s.metrics.RecordError("tick_uninitialized")
		s.log.Warn("tick skipped, market not initialized")
	case ctx.Err() != nil:
	default:
		s.metrics.RecordError("tick")
		s.log.Error("scheduled tick failed", logger.Error(err))
	}
}
