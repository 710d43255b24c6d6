package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradeAlchemist/internal/domain/models"
	drepo "TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/internal/repository"
	"TradeAlchemist/internal/services/simulation"
	"TradeAlchemist/pkg/config"
	"TradeAlchemist/pkg/logger"
	"TradeAlchemist/pkg/metrics"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type countingMetrics struct {
	metrics.Nop
	mu     sync.Mutex
	errors map[string]int
	ticks  int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: map[string]int{}}
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordTick(string, int, int, float64) {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}

func (m *countingMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func seededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	s, err := repository.NewSeededMemoryStore([]config.Instrument{
		{Symbol: "AAA", Exchange: "X", Price: "100.00", Volatility: 2.0},
		{Symbol: "BBB", Exchange: "X", Price: "50.00", Volatility: 1.0},
		{Symbol: "CCC", Exchange: "Y", Price: "12.34"},
	}, t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := s.SetRegime(context.Background(), models.RegimeState{Regime: models.RegimeNormal, StartedAt: t0.Add(-time.Hour)}); err != nil {
		t.Fatalf("set regime: %v", err)
	}
	return s
}

type storeSet struct {
	prices  drepo.LivePriceStore
	history drepo.HistoryLog
	vols    drepo.VolatilityProvider
	regimes drepo.RegimeStore
}

func allOf(s *repository.MemoryStore) storeSet {
	return storeSet{prices: s, history: s, vols: s, regimes: s}
}

func newOrchestrator(t *testing.T, ss storeSet, rc simulation.RegimeConfig, m drepo.Metrics, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	p, err := simulation.ProfileFor(3)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	opts = append([]OrchestratorOption{WithSeed(1), WithClock(func() time.Time { return t0 })}, opts...)
	return NewOrchestrator(ss.prices, ss.history, ss.vols, ss.regimes,
		simulation.NewRegimeMachine(rc), simulation.NewGenerator(p), m, logger.Nop(), opts...)
}

func TestRunTickUpdatesEveryInstrument(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	o := newOrchestrator(t, allOf(store), simulation.DefaultRegimeConfig(), metrics.Nop{})

	res, err := o.RunTick(ctx)
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if res.Updated != 3 || res.Skipped != 0 {
		t.Fatalf("updated=%d skipped=%d, want 3/0", res.Updated, res.Skipped)
	}
	if res.TickID == "" || !res.TickTime.Equal(t0) {
		t.Fatalf("unexpected identity: %+v", res)
	}

	prices, _ := store.GetAllInstruments(ctx)
	for _, p := range prices {
		if !p.LastUpdate.Equal(t0) {
			t.Fatalf("%s not updated: %+v", p.Key, p)
		}
		if p.Source != models.PriceSource("simulation_v3_"+res.Regime.Lower()) {
			t.Fatalf("%s source = %q", p.Key, p.Source)
		}
		hist, _ := store.History(ctx, p.Key.Symbol, p.Key.Exchange, 10)
		if len(hist) != 2 {
			t.Fatalf("%s history len %d, want 2", p.Key, len(hist))
		}
		if !hist[0].Close.Equal(p.Price) || !hist[0].Open.Equal(hist[1].Close) {
			t.Fatalf("%s bar does not chain: %+v", p.Key, hist)
		}
	}

	st, err := store.GetRegime(ctx)
	if err != nil {
		t.Fatalf("get regime: %v", err)
	}
	if st.Regime != res.Regime || st.RemainingTicks != res.RemainingTicks {
		t.Fatalf("persisted %+v does not match result %+v", st, res)
	}
}

func TestRunTickNormalScenarioBand(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	rc := simulation.DefaultRegimeConfig()
	rc.CrashProb, rc.BoomProb = 0, 0
	o := newOrchestrator(t, allOf(store), rc, metrics.Nop{})

	if _, err := o.RunTick(ctx); err != nil {
		t.Fatalf("run tick: %v", err)
	}
	hist, _ := store.History(ctx, "AAA", "X", 1)
	lo, hi := decimal.RequireFromString("99.80"), decimal.RequireFromString("100.20")
	if hist[0].Close.LessThan(lo) || hist[0].Close.GreaterThan(hi) {
		t.Fatalf("AAA.X moved to %s, outside [%s, %s]", hist[0].Close, lo, hi)
	}
}

func TestRunTickWithoutRegime(t *testing.T) {
	store := repository.NewMemoryStore()
	o := newOrchestrator(t, allOf(store), simulation.DefaultRegimeConfig(), metrics.Nop{})

	if _, err := o.RunTick(context.Background()); !errors.Is(err, ErrMarketNotInitialized) {
		t.Fatalf("expected ErrMarketNotInitialized, got %v", err)
	}
	if o.Running() {
		t.Fatalf("guard not released")
	}
}

type failingRegimeStore struct {
	drepo.RegimeStore
	err error
}

func (f failingRegimeStore) SetRegime(context.Context, models.RegimeState) error { return f.err }

func TestRunTickRegimePersistenceFailureKeepsRegime(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	held := models.RegimeState{Regime: models.RegimeCrash, RemainingTicks: 4, StartedAt: t0.Add(-time.Minute)}
	_ = store.SetRegime(ctx, held)

	ss := allOf(store)
	ss.regimes = failingRegimeStore{RegimeStore: store, err: errors.New("disk full")}
	m := newCountingMetrics()
	o := newOrchestrator(t, ss, simulation.DefaultRegimeConfig(), m)

	res, err := o.RunTick(ctx)
	if !errors.Is(err, ErrRegimePersistence) {
		t.Fatalf("expected ErrRegimePersistence, got %v", err)
	}
	if res != nil {
		t.Fatalf("no result may be returned with an unpersisted regime")
	}
	st, _ := store.GetRegime(ctx)
	if st != held {
		t.Fatalf("regime diverged: %+v != %+v", st, held)
	}
	if m.errorCount("regime_persist") != 1 || m.ticks != 0 {
		t.Fatalf("metrics: errors=%v ticks=%d", m.errors, m.ticks)
	}
}

type blockingPrices struct {
	drepo.LivePriceStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPrices) GetAllInstruments(ctx context.Context) ([]models.LivePrice, error) {
	close(b.entered)
	<-b.release
	return b.LivePriceStore.GetAllInstruments(ctx)
}

func TestRunTickRejectsConcurrentTrigger(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	bp := &blockingPrices{LivePriceStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	ss := allOf(store)
	ss.prices = bp
	o := newOrchestrator(t, ss, simulation.DefaultRegimeConfig(), metrics.Nop{})

	done := make(chan error, 1)
	go func() {
		_, err := o.RunTick(ctx)
		done <- err
	}()
	<-bp.entered

	if _, err := o.RunTick(ctx); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}
	close(bp.release)
	if err := <-done; err != nil {
		t.Fatalf("first tick failed: %v", err)
	}

	st, _ := store.GetRegime(ctx)
	hist, _ := store.History(ctx, "AAA", "X", 10)
	if len(hist) != 2 {
		t.Fatalf("rejected tick must not write: history len %d", len(hist))
	}
	if st.Regime == "" {
		t.Fatalf("regime lost")
	}
}

type brokenVols struct{}

func (brokenVols) GetVolatility(context.Context, models.InstrumentKey) (float64, bool, error) {
	return 0, false, errors.New("connection refused")
}

func TestRunTickVolatilityFallback(t *testing.T) {
	store := seededStore(t)
	ss := allOf(store)
	ss.vols = brokenVols{}
	m := newCountingMetrics()
	o := newOrchestrator(t, ss, simulation.DefaultRegimeConfig(), m)

	res, err := o.RunTick(context.Background())
	if err != nil {
		t.Fatalf("volatility errors must not fail the tick: %v", err)
	}
	if res.Updated != 3 {
		t.Fatalf("updated = %d, want 3", res.Updated)
	}
	if got := m.errorCount("volatility_lookup"); got != 3 {
		t.Fatalf("volatility_lookup = %d, want 3", got)
	}
}

func TestRunTickMissingVolatilityCounted(t *testing.T) {
	m := newCountingMetrics()
	o := newOrchestrator(t, allOf(seededStore(t)), simulation.DefaultRegimeConfig(), m)

	if _, err := o.RunTick(context.Background()); err != nil {
		t.Fatalf("run tick: %v", err)
	}
	// CCC.Y has no volatility record.
	if got := m.errorCount("volatility_default"); got != 1 {
		t.Fatalf("volatility_default = %d, want 1", got)
	}
}

func TestRunTickSkipsNonPositivePrices(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	_ = store.SetRegime(ctx, models.RegimeState{Regime: models.RegimeCrash, RemainingTicks: 3, StartedAt: t0})
	rc := simulation.DefaultRegimeConfig()
	rc.CrashBias = -2
	o := newOrchestrator(t, allOf(store), rc, metrics.Nop{})

	before, _ := store.GetAllInstruments(ctx)
	res, err := o.RunTick(ctx)
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if res.Updated != 0 || res.Skipped != 3 {
		t.Fatalf("updated=%d skipped=%d, want 0/3", res.Updated, res.Skipped)
	}
	after, _ := store.GetAllInstruments(ctx)
	for i := range before {
		if !before[i].Price.Equal(after[i].Price) {
			t.Fatalf("%s changed despite skip", before[i].Key)
		}
	}
	if res.Regime != models.RegimeCrash || res.RemainingTicks != 2 {
		t.Fatalf("regime must still advance: %+v", res)
	}
}

func TestRunTickHoldsRegimeAcrossTicks(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	_ = store.SetRegime(ctx, models.RegimeState{Regime: models.RegimeBoom, RemainingTicks: 3, StartedAt: t0})
	o := newOrchestrator(t, allOf(store), simulation.DefaultRegimeConfig(), metrics.Nop{})

	for want := 2; want >= 0; want-- {
		res, err := o.RunTick(ctx)
		if err != nil {
			t.Fatalf("run tick: %v", err)
		}
		if res.Regime != models.RegimeBoom || res.RemainingTicks != want {
			t.Fatalf("got %s/%d, want BOOM/%d", res.Regime, res.RemainingTicks, want)
		}
		if !res.StartedAt.Equal(t0) {
			t.Fatalf("started_at moved during hold")
		}
	}
}

func TestRunTickTimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	o := newOrchestrator(t, allOf(store), simulation.DefaultRegimeConfig(), metrics.Nop{})

	for i := 0; i < 5; i++ {
		if _, err := o.RunTick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	hist, _ := store.History(ctx, "BBB", "X", 100)
	if len(hist) != 6 {
		t.Fatalf("history len %d, want 6", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if !hist[i-1].Timestamp.After(hist[i].Timestamp) {
			t.Fatalf("bars not strictly ordered at %d: %v then %v", i, hist[i-1].Timestamp, hist[i].Timestamp)
		}
		if !hist[i-1].Open.Equal(hist[i].Close) {
			t.Fatalf("bar %d does not open at previous close", i-1)
		}
	}
}

func TestRunTickSeededRunsAreReproducible(t *testing.T) {
	ctx := context.Background()
	a, b := seededStore(t), seededStore(t)
	oa := newOrchestrator(t, allOf(a), simulation.DefaultRegimeConfig(), metrics.Nop{}, WithSeed(99), WithWorkers(1))
	ob := newOrchestrator(t, allOf(b), simulation.DefaultRegimeConfig(), metrics.Nop{}, WithSeed(99), WithWorkers(8))

	for i := 0; i < 10; i++ {
		if _, err := oa.RunTick(ctx); err != nil {
			t.Fatalf("a: %v", err)
		}
		if _, err := ob.RunTick(ctx); err != nil {
			t.Fatalf("b: %v", err)
		}
	}
	pa, _ := a.GetAllInstruments(ctx)
	pb, _ := b.GetAllInstruments(ctx)
	for i := range pa {
		if !pa[i].Price.Equal(pb[i].Price) {
			t.Fatalf("%s diverged: %s vs %s", pa[i].Key, pa[i].Price, pb[i].Price)
		}
	}
}

type fakeLock struct {
	acquired bool
	unlocked int
}

func (l *fakeLock) TryLock(context.Context) (bool, error) { return l.acquired, nil }
func (l *fakeLock) Unlock(context.Context) error          { l.unlocked++; return nil }

func TestRunTickHonoursDistributedLock(t *testing.T) {
	ctx := context.Background()

	busy := &fakeLock{}
	o := newOrchestrator(t, allOf(seededStore(t)), simulation.DefaultRegimeConfig(), metrics.Nop{}, WithTickLock(busy))
	if _, err := o.RunTick(ctx); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}

	free := &fakeLock{acquired: true}
	o = newOrchestrator(t, allOf(seededStore(t)), simulation.DefaultRegimeConfig(), metrics.Nop{}, WithTickLock(free))
	if _, err := o.RunTick(ctx); err != nil {
		t.Fatalf("run tick: %v", err)
	}
	if free.unlocked != 1 {
		t.Fatalf("lock released %d times, want 1", free.unlocked)
	}
}

type recordingPublisher struct {
	events []*models.TickEvent
	err    error
}

func (p *recordingPublisher) PublishTick(_ context.Context, ev *models.TickEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func TestRunTickPublishesBestEffort(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	m := newCountingMetrics()
	o := newOrchestrator(t, allOf(seededStore(t)), simulation.DefaultRegimeConfig(), m, WithPublisher(pub))

	res, err := o.RunTick(ctx)
	if err != nil {
		t.Fatalf("publish failure must not fail the tick: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Result.TickID != res.TickID || len(ev.Prices) != 3 || len(ev.Bars) != 3 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if m.errorCount("publish") != 1 {
		t.Fatalf("publish error not counted")
	}
}

func TestRunTickOrdersBarsAcrossOrchestrators(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	ahead := newOrchestrator(t, allOf(store), simulation.DefaultRegimeConfig(), metrics.Nop{},
		WithClock(func() time.Time { return t0.Add(10 * time.Second) }))
	behind := newOrchestrator(t, allOf(store), simulation.DefaultRegimeConfig(), metrics.Nop{},
		WithSeed(2), WithClock(func() time.Time { return t0.Add(5 * time.Second) }))

	first, err := ahead.RunTick(ctx)
	if err != nil {
		t.Fatalf("ahead: %v", err)
	}
	second, err := behind.RunTick(ctx)
	if err != nil {
		t.Fatalf("behind: %v", err)
	}
	if !second.TickTime.After(first.TickTime) {
		t.Fatalf("second tick at %v, not after %v", second.TickTime, first.TickTime)
	}

	prices, _ := store.GetAllInstruments(ctx)
	for _, p := range prices {
		hist, _ := store.History(ctx, p.Key.Symbol, p.Key.Exchange, 10)
		if len(hist) != 3 {
			t.Fatalf("%s history len %d, want 3", p.Key, len(hist))
		}
		if !hist[0].Timestamp.After(hist[1].Timestamp) || !hist[1].Timestamp.After(hist[2].Timestamp) {
			t.Fatalf("%s bars out of order: %v %v %v", p.Key, hist[0].Timestamp, hist[1].Timestamp, hist[2].Timestamp)
		}
		if !hist[0].Close.Equal(p.Price) || !hist[0].Timestamp.Equal(p.LastUpdate) {
			t.Fatalf("%s latest bar %+v disagrees with live %+v", p.Key, hist[0], p)
		}
	}
}

type failingHistory struct {
	drepo.HistoryLog
	err error
}

func (f failingHistory) AppendBars(context.Context, []models.Bar) error { return f.err }

func TestRunTickHistoryFailureLeavesLivePrices(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	before, _ := store.GetAllInstruments(ctx)
	regime, _ := store.GetRegime(ctx)

	ss := allOf(store)
	ss.history = failingHistory{HistoryLog: store, err: errors.New("clickhouse unavailable")}
	m := newCountingMetrics()
	o := newOrchestrator(t, ss, simulation.DefaultRegimeConfig(), m)

	if _, err := o.RunTick(ctx); err == nil {
		t.Fatalf("expected history failure to fail the tick")
	}
	after, _ := store.GetAllInstruments(ctx)
	for i := range after {
		if !after[i].Price.Equal(before[i].Price) || !after[i].LastUpdate.Equal(before[i].LastUpdate) {
			t.Fatalf("%s moved without a bar: %+v -> %+v", after[i].Key, before[i], after[i])
		}
		hist, _ := store.History(ctx, after[i].Key.Symbol, after[i].Key.Exchange, 10)
		if len(hist) != 1 || !hist[0].Close.Equal(after[i].Price) {
			t.Fatalf("%s history %+v", after[i].Key, hist)
		}
	}
	if st, _ := store.GetRegime(ctx); st != regime {
		t.Fatalf("regime advanced on failed tick: %+v", st)
	}
	if m.errorCount("history_append") != 1 {
		t.Fatalf("metrics = %v", m.errors)
	}
}

func TestRunTickCancelledBeforeWritesChangesNothing(t *testing.T) {
	store := seededStore(t)
	before, _ := store.GetAllInstruments(context.Background())
	o := newOrchestrator(t, allOf(store), simulation.DefaultRegimeConfig(), metrics.Nop{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.RunTick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	after, _ := store.GetAllInstruments(context.Background())
	for i := range after {
		if !after[i].Price.Equal(before[i].Price) {
			t.Fatalf("%s changed on a cancelled tick", after[i].Key)
		}
	}
}
