package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"TradeAlchemist/internal/domain/models"
	drepo "TradeAlchemist/internal/domain/repository"
)

const (
	DefaultHistoryLimit = 200
	MaxHistoryLimit     = 5000
)

// MarketQuery serves the read side: live prices, regime state and bar history.
type MarketQuery struct {
	prices  drepo.LivePriceStore
	history drepo.HistoryLog
	regimes drepo.RegimeStore
}

func NewMarketQuery(prices drepo.LivePriceStore, history drepo.HistoryLog, regimes drepo.RegimeStore) *MarketQuery {
	return &MarketQuery{prices: prices, history: history, regimes: regimes}
}

// LivePrices lists current prices ordered by key, optionally filtered by exchange.
func (q *MarketQuery) LivePrices(ctx context.Context, exchange string) ([]models.LivePrice, error) {
	all, err := q.prices.GetAllInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("live prices: %w", err)
	}
	out := all[:0]
	for _, p := range all {
		if exchange == "" || p.Key.Exchange == exchange {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

// MarketState returns the regime singleton or ErrMarketNotInitialized.
func (q *MarketQuery) MarketState(ctx context.Context) (models.RegimeState, error) {
	st, err := q.regimes.GetRegime(ctx)
	if err != nil {
		if isNotFound(err) {
			return models.RegimeState{}, ErrMarketNotInitialized
		}
		return models.RegimeState{}, fmt.Errorf("market state: %w", err)
	}
	return st, nil
}

// History returns bars newest first. limit is clamped to [1, MaxHistoryLimit].
func (q *MarketQuery) History(ctx context.Context, symbol, exchange string, limit int) ([]models.Bar, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	bars, err := q.history.History(ctx, symbol, exchange, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("history %s: %w", symbol, drepo.ErrNotFound)
	}
	return bars, nil
}

func isNotFound(err error) bool { return errors.Is(err, drepo.ErrNotFound) }
