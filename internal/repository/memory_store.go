package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeAlchemist/internal/domain/models"
	"TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/pkg/config"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps live prices, history, volatility and the regime in process.
// It implements LivePriceStore, HistoryLog, VolatilityProvider and RegimeStore.
type MemoryStore struct {
	mu        sync.RWMutex
	prices    map[models.InstrumentKey]models.LivePrice
	bars      map[models.InstrumentKey][]models.Bar
	vols      map[models.InstrumentKey]float64
	regime    models.RegimeState
	hasRegime bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices: make(map[models.InstrumentKey]models.LivePrice),
		bars:   make(map[models.InstrumentKey][]models.Bar),
		vols:   make(map[models.InstrumentKey]float64),
	}
}

// NewSeededMemoryStore loads the configured instruments. Each gets one seed bar so
// that market initialization can rebuild live prices from history.
func NewSeededMemoryStore(seeds []config.Instrument, now time.Time) (*MemoryStore, error) {
	s := NewMemoryStore()
	for _, in := range seeds {
		price, err := decimal.NewFromString(in.Price)
		if err != nil {
			return nil, fmt.Errorf("instrument %s.%s: %w", in.Symbol, in.Exchange, err)
		}
		key := models.InstrumentKey{Symbol: in.Symbol, Exchange: in.Exchange}
		price = price.Round(2)
		s.prices[key] = models.LivePrice{Key: key, Price: price, LastUpdate: now, Source: models.SourceHistoricalInit}
		s.bars[key] = []models.Bar{models.NewBar(key, now, price, price, 0)}
		if in.Volatility > 0 {
			s.vols[key] = in.Volatility
		}
	}
	return s, nil
}

// SetVolatility stores the scalar for key.
func (s *MemoryStore) SetVolatility(key models.InstrumentKey, v float64) {
	s.mu.Lock()
	s.vols[key] = v
	s.mu.Unlock()
}

func (s *MemoryStore) GetAllInstruments(_ context.Context) ([]models.LivePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LivePrice, 0, len(s.prices))
	for _, p := range s.prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

func (s *MemoryStore) UpdatePrice(_ context.Context, key models.InstrumentKey, price decimal.Decimal, ts time.Time, source models.PriceSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prices[key]; !ok {
		return fmt.Errorf("%s: %w", key, repository.ErrNotFound)
	}
	s.prices[key] = models.LivePrice{Key: key, Price: price, LastUpdate: ts, Source: source}
	return nil
}

func (s *MemoryStore) Seed(_ context.Context, prices []models.LivePrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = make(map[models.InstrumentKey]models.LivePrice, len(prices))
	for _, p := range prices {
		s.prices[p.Key] = p
	}
	return nil
}

func (s *MemoryStore) AppendBar(ctx context.Context, bar models.Bar) error {
	return s.AppendBars(ctx, []models.Bar{bar})
}

func (s *MemoryStore) AppendBars(_ context.Context, bars []models.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bars {
		s.bars[b.Key] = append(s.bars[b.Key], b)
	}
	return nil
}

func (s *MemoryStore) History(_ context.Context, symbol, exchange string, limit int) ([]models.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Bar
	for key, bars := range s.bars {
		if key.Symbol != symbol || (exchange != "" && key.Exchange != exchange) {
			continue
		}
		out = append(out, bars...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LatestBars(_ context.Context) ([]models.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Bar, 0, len(s.bars))
	for _, bars := range s.bars {
		if len(bars) == 0 {
			continue
		}
		latest := bars[0]
		for _, b := range bars[1:] {
			if !b.Timestamp.Before(latest.Timestamp) {
				latest = b
			}
		}
		out = append(out, latest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

func (s *MemoryStore) GetVolatility(_ context.Context, key models.InstrumentKey) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vols[key]
	return v, ok, nil
}

func (s *MemoryStore) GetRegime(_ context.Context) (models.RegimeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasRegime {
		return models.RegimeState{}, repository.ErrNotFound
	}
	return s.regime, nil
}

func (s *MemoryStore) SetRegime(_ context.Context, state models.RegimeState) error {
	s.mu.Lock()
	s.regime, s.hasRegime = state, true
	s.mu.Unlock()
	return nil
}

var (
	_ repository.LivePriceStore     = (*MemoryStore)(nil)
	_ repository.HistoryLog         = (*MemoryStore)(nil)
	_ repository.VolatilityProvider = (*MemoryStore)(nil)
	_ repository.RegimeStore        = (*MemoryStore)(nil)
)
