package repository

import (
	"context"
	"errors"
	"time"

	"TradeAlchemist/internal/domain/models"
	domrepo "TradeAlchemist/internal/domain/repository"
	pkgkafka "TradeAlchemist/pkg/kafka"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// BatchProducer is the subset of pkg/kafka.Producer used for tick events.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// PriceTickMessage is one instrument's update within a tick, keyed by instrument.
type PriceTickMessage struct {
	TickID   string             `json:"tick_id"`
	TickTime time.Time          `json:"tick_time"`
	Regime   models.Regime      `json:"regime"`
	Symbol   string             `json:"symbol"`
	Exchange string             `json:"exchange"`
	Price    decimal.Decimal    `json:"price"`
	Source   models.PriceSource `json:"source"`
	Bar      *models.Bar        `json:"bar,omitempty"`
}

// KafkaTickPublisher writes one message per updated instrument so consumers can partition by key.
type KafkaTickPublisher struct {
	producer BatchProducer
	topic    string
}

func NewKafkaTickPublisher(producer BatchProducer, topic string) *KafkaTickPublisher {
	return &KafkaTickPublisher{producer: producer, topic: topic}
}

func (p *KafkaTickPublisher) PublishTick(ctx context.Context, ev *models.TickEvent) error {
	if ev == nil || len(ev.Prices) == 0 {
		return nil
	}

	bars := make(map[models.InstrumentKey]*models.Bar, len(ev.Bars))
	for i := range ev.Bars {
		bars[ev.Bars[i].Key] = &ev.Bars[i]
	}

	header := []kafka.Header{{Key: "trace_id", Value: []byte(ev.Result.TickID)}}
	msgs := make([]pkgkafka.Message, 0, len(ev.Prices))
	for _, lp := range ev.Prices {
		msgs = append(msgs, pkgkafka.Message{
			Key:     []byte(lp.Key.String()),
			Headers: header,
			Value: PriceTickMessage{
				TickID:   ev.Result.TickID,
				TickTime: ev.Result.TickTime,
				Regime:   ev.Result.Regime,
				Symbol:   lp.Key.Symbol,
				Exchange: lp.Key.Exchange,
				Price:    lp.Price,
				Source:   lp.Source,
				Bar:      bars[lp.Key],
			},
		})
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// MultiPublisher fans a tick out to every publisher and joins their errors.
type MultiPublisher []domrepo.TickPublisher

func (m MultiPublisher) PublishTick(ctx context.Context, ev *models.TickEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishTick(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ domrepo.TickPublisher = (*KafkaTickPublisher)(nil)
	_ domrepo.TickPublisher = MultiPublisher(nil)
	_ BatchProducer         = (*pkgkafka.Producer)(nil)
)
