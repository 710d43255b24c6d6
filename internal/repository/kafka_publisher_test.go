package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"TradeAlchemist/internal/domain/models"
	pkgkafka "TradeAlchemist/pkg/kafka"

	"github.com/shopspring/decimal"
)

type recordingProducer struct {
	topic string
	msgs  []pkgkafka.Message
	err   error
}

func (r *recordingProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	r.topic, r.msgs = topic, msgs
	return r.err
}

type failingPublisher struct{ err error }

func (f failingPublisher) PublishTick(context.Context, *models.TickEvent) error { return f.err }

func sampleEvent() *models.TickEvent {
	ts := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	aaa := models.InstrumentKey{Symbol: "AAA", Exchange: "X"}
	bbb := models.InstrumentKey{Symbol: "BBB", Exchange: "X"}
	return &models.TickEvent{
		Result: models.TickResult{TickID: "t-1", TickTime: ts, Regime: models.RegimeBoom, Updated: 2},
		Prices: []models.LivePrice{
			{Key: aaa, Price: decimal.RequireFromString("100.10"), LastUpdate: ts, Source: "simulation_v3_boom"},
			{Key: bbb, Price: decimal.RequireFromString("49.90"), LastUpdate: ts, Source: "simulation_v3_boom"},
		},
		Bars: []models.Bar{
			models.NewBar(bbb, ts, decimal.RequireFromString("50.00"), decimal.RequireFromString("49.90"), 1200),
		},
	}
}

func TestKafkaTickPublisherKeysByInstrument(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewKafkaTickPublisher(prod, "market.ticks")

	if err := pub.PublishTick(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if prod.topic != "market.ticks" || len(prod.msgs) != 2 {
		t.Fatalf("unexpected batch topic=%s n=%d", prod.topic, len(prod.msgs))
	}
	if string(prod.msgs[0].Key) != "AAA.X" || string(prod.msgs[1].Key) != "BBB.X" {
		t.Fatalf("unexpected keys %s %s", prod.msgs[0].Key, prod.msgs[1].Key)
	}
	first := prod.msgs[0].Value.(PriceTickMessage)
	if first.TickID != "t-1" || first.Regime != models.RegimeBoom || first.Bar != nil {
		t.Fatalf("unexpected payload %+v", first)
	}
	second := prod.msgs[1].Value.(PriceTickMessage)
	if second.Bar == nil || second.Bar.Volume != 1200 {
		t.Fatalf("bar not attached: %+v", second)
	}
	if string(prod.msgs[0].Headers[0].Value) != "t-1" {
		t.Fatalf("trace header missing")
	}

	prod.msgs = nil
	if err := pub.PublishTick(context.Background(), &models.TickEvent{}); err != nil || prod.msgs != nil {
		t.Fatalf("empty tick must not publish")
	}
}

func TestMultiPublisherJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	prod := &recordingProducer{}
	multi := MultiPublisher{failingPublisher{err: errA}, nil, NewKafkaTickPublisher(prod, "ticks")}

	err := multi.PublishTick(context.Background(), sampleEvent())
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(prod.msgs) != 2 {
		t.Fatalf("later publishers must still run")
	}
}
