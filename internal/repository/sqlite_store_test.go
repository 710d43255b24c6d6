package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"TradeAlchemist/internal/domain/models"
	domrepo "TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/pkg/config"

	"github.com/shopspring/decimal"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "alchemist.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreLivePrices(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	ts := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	aaa := models.InstrumentKey{Symbol: "AAA", Exchange: "X"}
	bbb := models.InstrumentKey{Symbol: "BBB", Exchange: "X"}

	err := s.Seed(ctx, []models.LivePrice{
		{Key: bbb, Price: decimal.RequireFromString("50.00"), LastUpdate: ts, Source: models.SourceHistoricalInit},
		{Key: aaa, Price: decimal.RequireFromString("100.00"), LastUpdate: ts, Source: models.SourceHistoricalInit},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.UpdatePrice(ctx, aaa, decimal.RequireFromString("100.12"), ts.Add(time.Second), "simulation_v3_normal"); err != nil {
		t.Fatalf("update: %v", err)
	}
	missing := models.InstrumentKey{Symbol: "ZZZ", Exchange: "X"}
	if err := s.UpdatePrice(ctx, missing, decimal.NewFromInt(1), ts, "x"); !errors.Is(err, domrepo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := s.GetAllInstruments(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 2 || all[0].Key != aaa || all[1].Key != bbb {
		t.Fatalf("unexpected prices %+v", all)
	}
	if !all[0].Price.Equal(decimal.RequireFromString("100.12")) || all[0].Source != "simulation_v3_normal" {
		t.Fatalf("update not applied: %+v", all[0])
	}
	if !all[0].LastUpdate.Equal(ts.Add(time.Second)) {
		t.Fatalf("last update %v", all[0].LastUpdate)
	}

	// Seeding replaces the snapshot.
	if err := s.Seed(ctx, []models.LivePrice{{Key: bbb, Price: decimal.NewFromInt(7), LastUpdate: ts}}); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	all, _ = s.GetAllInstruments(ctx)
	if len(all) != 1 || all[0].Key != bbb {
		t.Fatalf("reseed left %+v", all)
	}
}

func TestSQLiteStoreHistory(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	t0 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	aaaX := models.InstrumentKey{Symbol: "AAA", Exchange: "X"}
	aaaY := models.InstrumentKey{Symbol: "AAA", Exchange: "Y"}

	var bars []models.Bar
	for i := 0; i < 5; i++ {
		open := decimal.NewFromInt(int64(100 + i))
		close := open.Add(decimal.RequireFromString("0.25"))
		bars = append(bars, models.NewBar(aaaX, t0.Add(time.Duration(i)*time.Microsecond*1500), open, close, 1000))
	}
	if err := s.AppendBars(ctx, bars); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendBar(ctx, models.NewBar(aaaY, t0, decimal.NewFromInt(9), decimal.NewFromInt(8), 10)); err != nil {
		t.Fatalf("append one: %v", err)
	}

	got, err := s.History(ctx, "AAA", "X", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(bars[4].Timestamp) || !got[2].Timestamp.Equal(bars[2].Timestamp) {
		t.Fatalf("history not newest first: %v %v", got[0].Timestamp, got[2].Timestamp)
	}
	if !got[0].Close.Equal(bars[4].Close) || got[0].Volume != 1000 {
		t.Fatalf("bar round trip: %+v", got[0])
	}

	all, err := s.History(ctx, "AAA", "", 100)
	if err != nil || len(all) != 6 {
		t.Fatalf("history across exchanges: %d %v", len(all), err)
	}

	latest, err := s.LatestBars(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 || latest[0].Key != aaaX || !latest[0].Timestamp.Equal(bars[4].Timestamp) {
		t.Fatalf("unexpected latest %+v", latest)
	}
	if latest[1].Key != aaaY || !latest[1].Close.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("unexpected latest %+v", latest[1])
	}
}

func TestSQLiteStoreRegimeAndVolatility(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	if _, err := s.GetRegime(ctx); !errors.Is(err, domrepo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	started := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	want := models.RegimeState{Regime: models.RegimeCrash, RemainingTicks: 7, StartedAt: started}
	if err := s.SetRegime(ctx, want); err != nil {
		t.Fatalf("set regime: %v", err)
	}
	want.RemainingTicks = 6
	if err := s.SetRegime(ctx, want); err != nil {
		t.Fatalf("overwrite regime: %v", err)
	}
	got, err := s.GetRegime(ctx)
	if err != nil {
		t.Fatalf("get regime: %v", err)
	}
	if got.Regime != want.Regime || got.RemainingTicks != 6 || !got.StartedAt.Equal(started) {
		t.Fatalf("regime round trip: %+v", got)
	}

	key := models.InstrumentKey{Symbol: "AAA", Exchange: "X"}
	if _, found, err := s.GetVolatility(ctx, key); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}
	if err := s.SetVolatility(ctx, key, 1.75); err != nil {
		t.Fatalf("set volatility: %v", err)
	}
	v, found, err := s.GetVolatility(ctx, key)
	if err != nil || !found || v != 1.75 {
		t.Fatalf("volatility %v found=%v err=%v", v, found, err)
	}
}

func TestSQLiteStoreSeedInstruments(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	seeds := []config.Instrument{
		{Symbol: "AAA", Exchange: "X", Price: "100.004", Volatility: 2},
		{Symbol: "BBB", Exchange: "X", Price: "50"},
	}

	n, err := s.SeedInstruments(ctx, seeds, now)
	if err != nil || n != 2 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	// Instruments with history are left alone.
	if n, err = s.SeedInstruments(ctx, seeds, now.Add(time.Hour)); err != nil || n != 0 {
		t.Fatalf("reseed: n=%d err=%v", n, err)
	}

	latest, err := s.LatestBars(ctx)
	if err != nil || len(latest) != 2 {
		t.Fatalf("latest: %d %v", len(latest), err)
	}
	if !latest[0].Close.Equal(decimal.RequireFromString("100.00")) || !latest[0].Timestamp.Equal(now) {
		t.Fatalf("seed bar %+v", latest[0])
	}
	if v, found, _ := s.GetVolatility(ctx, models.InstrumentKey{Symbol: "AAA", Exchange: "X"}); !found || v != 2 {
		t.Fatalf("volatility %v found=%v", v, found)
	}
	if _, found, _ := s.GetVolatility(ctx, models.InstrumentKey{Symbol: "BBB", Exchange: "X"}); found {
		t.Fatalf("zero volatility must not be stored")
	}

	if _, err := s.SeedInstruments(ctx, []config.Instrument{{Symbol: "C", Exchange: "X", Price: "abc"}}, now); err == nil {
		t.Fatalf("expected parse error")
	}
}
