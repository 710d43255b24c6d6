package usecase

import (
	"context"
	"fmt"
	"time"

	"TradeAlchemist/internal/domain/models"
	drepo "TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/pkg/logger"
)

// InitReport counts what market initialization did.
type InitReport struct {
	Initialized int `json:"initialized"`
	Skipped     int `json:"skipped"`
}

// MarketInitializer prepares a fresh market: the regime singleton and live prices
// rebuilt from the most recent historical bar of every instrument.
type MarketInitializer struct {
	prices  drepo.LivePriceStore
	history drepo.HistoryLog
	regimes drepo.RegimeStore
	log     *logger.Logger
	now     func() time.Time
}

func NewMarketInitializer(prices drepo.LivePriceStore, history drepo.HistoryLog, regimes drepo.RegimeStore, log *logger.Logger) *MarketInitializer {
	return &MarketInitializer{
		prices:  prices,
		history: history,
		regimes: regimes,
		log:     log.With(logger.String("component", "market_init")),
		now:     time.Now,
	}
}

// InitRegime resets the singleton to NORMAL with nothing held.
func (m *MarketInitializer) InitRegime(ctx context.Context) (models.RegimeState, error) {
	st := models.RegimeState{
		Regime:         models.RegimeNormal,
		RemainingTicks: 0,
		StartedAt:      m.now().UTC().Truncate(time.Microsecond),
	}
	if err := m.regimes.SetRegime(ctx, st); err != nil {
		return models.RegimeState{}, fmt.Errorf("init regime: %w", err)
	}
	m.log.Info("market regime initialized", logger.String("regime", string(st.Regime)))
	return st, nil
}

// EnsureRegime initializes the regime only when none is stored yet.
func (m *MarketInitializer) EnsureRegime(ctx context.Context) (models.RegimeState, bool, error) {
	st, err := m.regimes.GetRegime(ctx)
	if err == nil {
		return st, false, nil
	}
	if !isNotFound(err) {
		return models.RegimeState{}, false, fmt.Errorf("load regime: %w", err)
	}
	st, err = m.InitRegime(ctx)
	return st, err == nil, err
}

// EnsureLivePrices runs InitLivePrices only when the live snapshot is empty.
func (m *MarketInitializer) EnsureLivePrices(ctx context.Context) (InitReport, bool, error) {
	cur, err := m.prices.GetAllInstruments(ctx)
	if err != nil {
		return InitReport{}, false, fmt.Errorf("load live prices: %w", err)
	}
	if len(cur) > 0 {
		return InitReport{Initialized: len(cur)}, false, nil
	}
	rep, err := m.InitLivePrices(ctx)
	return rep, err == nil, err
}

// InitLivePrices replaces the live snapshot with the latest close of every instrument.
// Bars with a non-positive close are skipped.
func (m *MarketInitializer) InitLivePrices(ctx context.Context) (InitReport, error) {
	bars, err := m.history.LatestBars(ctx)
	if err != nil {
		return InitReport{}, fmt.Errorf("load latest bars: %w", err)
	}

	var rep InitReport
	prices := make([]models.LivePrice, 0, len(bars))
	for _, b := range bars {
		if !b.Close.IsPositive() {
			rep.Skipped++
			m.log.Warn("skipping instrument with non-positive close",
				logger.Stringer("instrument", b.Key),
				logger.String("close", b.Close.String()),
			)
			continue
		}
		prices = append(prices, models.LivePrice{
			Key:        b.Key,
			Price:      b.Close.Round(2),
			LastUpdate: b.Timestamp,
			Source:     models.SourceHistoricalInit,
		})
	}
	rep.Initialized = len(prices)

	if err := m.prices.Seed(ctx, prices); err != nil {
		return InitReport{}, fmt.Errorf("seed live prices: %w", err)
	}
	m.log.Info("live prices initialized",
		logger.Int("initialized", rep.Initialized),
		logger.Int("skipped", rep.Skipped),
	)
	return rep, nil
}
