package repository

import (
	"context"
	"errors"
	"time"

	"TradeAlchemist/internal/domain/models"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a record addressed by key does not exist.
var ErrNotFound = errors.New("record not found")

// LivePriceStore holds exactly one current price per instrument.
type LivePriceStore interface {
	GetAllInstruments(ctx context.Context) ([]models.LivePrice, error)
	// UpdatePrice is a single point write; the record must already exist (ErrNotFound otherwise).
	UpdatePrice(ctx context.Context, key models.InstrumentKey, price decimal.Decimal, ts time.Time, source models.PriceSource) error
	// Seed replaces the whole snapshot. Initialization only.
	Seed(ctx context.Context, prices []models.LivePrice) error
}

// HistoryLog is the append-only bar sequence per instrument.
type HistoryLog interface {
	AppendBar(ctx context.Context, bar models.Bar) error
	AppendBars(ctx context.Context, bars []models.Bar) error
	// History returns up to limit bars for symbol, newest first. Empty exchange matches all.
	History(ctx context.Context, symbol, exchange string, limit int) ([]models.Bar, error)
	// LatestBars returns the most recent bar of every instrument.
	LatestBars(ctx context.Context) ([]models.Bar, error)
}

// VolatilityProvider looks up per-instrument volatility scalars.
type VolatilityProvider interface {
	// GetVolatility reports found=false when the instrument has no record.
	GetVolatility(ctx context.Context, key models.InstrumentKey) (scalar float64, found bool, err error)
}

// RegimeStore persists the market regime singleton.
type RegimeStore interface {
	GetRegime(ctx context.Context) (models.RegimeState, error)
	SetRegime(ctx context.Context, state models.RegimeState) error
}

// TickLock serializes ticks across processes sharing one backend.
type TickLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// TickPublisher fans completed ticks out to downstream consumers.
type TickPublisher interface {
	PublishTick(ctx context.Context, ev *models.TickEvent) error
}

type Metrics interface {
	RecordTick(regime string, updated, skipped int, seconds float64)
	RecordRegime(regime string, remaining int)
	RecordError(kind string)
	RecordLastPrice(instrument string, price float64)
	RecordLatency(op string, seconds float64)
}
