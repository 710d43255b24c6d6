package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"TradeAlchemist/internal/domain/models"
	drepo "TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/internal/services/simulation"
	"TradeAlchemist/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTickInProgress rejects a trigger while another tick is running. Callers may retry.
	ErrTickInProgress = errors.New("tick already in progress")
	// ErrRegimePersistence means instrument writes landed but the regime did not advance.
	ErrRegimePersistence = errors.New("regime persistence failed")
	// ErrMarketNotInitialized is returned when no regime singleton exists yet.
	ErrMarketNotInitialized = errors.New("market state not initialized")
)

const (
	stateIdle int32 = iota
	stateRunning
)

// OrchestratorOption configures Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTickLock adds a cross-process lock around every tick.
func WithTickLock(l drepo.TickLock) OrchestratorOption {
	return func(o *Orchestrator) { o.lock = l }
}

// WithPublisher fans completed ticks out. Publishing is best effort.
func WithPublisher(p drepo.TickPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.pub = p }
}

// WithClock overrides the tick clock.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithWorkers bounds per-instrument parallelism.
func WithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSeed makes the whole run reproducible. Zero keeps a random seed.
func WithSeed(seed int64) OrchestratorOption {
	return func(o *Orchestrator) { o.rng = simulation.NewRand(seed) }
}

// Orchestrator runs one market tick at a time: regime transition, per-instrument pricing,
// persistence, then regime commit.
type Orchestrator struct {
	prices  drepo.LivePriceStore
	history drepo.HistoryLog
	vols    drepo.VolatilityProvider
	regimes drepo.RegimeStore
	lock    drepo.TickLock
	pub     drepo.TickPublisher
	metrics drepo.Metrics
	log     *logger.Logger

	machine *simulation.RegimeMachine
	gen     *simulation.Generator
	workers int
	now     func() time.Time

	state atomic.Int32
	// rng and lastTick are only touched by the goroutine holding state.
	rng      *rand.Rand
	lastTick time.Time
}

func NewOrchestrator(
	prices drepo.LivePriceStore,
	history drepo.HistoryLog,
	vols drepo.VolatilityProvider,
	regimes drepo.RegimeStore,
	machine *simulation.RegimeMachine,
	gen *simulation.Generator,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		prices:  prices,
		history: history,
		vols:    vols,
		regimes: regimes,
		machine: machine,
		gen:     gen,
		metrics: metrics,
		log:     log.With(logger.String("component", "orchestrator")),
		workers: 8,
		now:     time.Now,
		rng:     simulation.NewRand(0),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DetachTick derives a context for a tick started on behalf of a caller that may go
// away, such as an HTTP client or a consumer being stopped. Values are kept, the
// caller's cancellation is not, and timeout (if positive) bounds the tick.
func DetachTick(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Running reports whether a tick is in flight in this process.
func (o *Orchestrator) Running() bool { return o.state.Load() == stateRunning }

type pricedInstrument struct {
	live models.LivePrice
	tick simulation.Tick
	ok   bool
}

// RunTick advances the market by one tick. The regime is persisted only after every
// instrument write succeeded; on any failure before that the stored regime is unchanged.
func (o *Orchestrator) RunTick(ctx context.Context) (*models.TickResult, error) {
	if !o.state.CompareAndSwap(stateIdle, stateRunning) {
		return nil, ErrTickInProgress
	}
	defer o.state.Store(stateIdle)

	if o.lock != nil {
		ok, err := o.lock.TryLock(ctx)
		if err != nil {
			o.metrics.RecordError("tick_lock")
			return nil, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			return nil, ErrTickInProgress
		}
		defer func() {
			if err := o.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				o.log.Warn("release tick lock failed", logger.Error(err))
			}
		}()
	}

	start := time.Now()

	cur, err := o.regimes.GetRegime(ctx)
	if err != nil {
		if errors.Is(err, drepo.ErrNotFound) {
			return nil, ErrMarketNotInitialized
		}
		o.metrics.RecordError("regime_load")
		return nil, fmt.Errorf("load regime: %w", err)
	}

	instruments, err := o.prices.GetAllInstruments(ctx)
	if err != nil {
		o.metrics.RecordError("load_instruments")
		return nil, fmt.Errorf("load instruments: %w", err)
	}
	sort.Slice(instruments, func(i, j int) bool { return instruments[i].Key.Less(instruments[j].Key) })
	tickTime := o.tickTime(instruments)

	tr := o.machine.Transition(cur, o.rng, tickTime)
	if tr.Rolled && tr.Effective.Regime != models.RegimeNormal {
		o.log.Info("regime episode started",
			logger.String("regime", string(tr.Effective.Regime)),
			logger.Int("duration", tr.Effective.RemainingTicks),
		)
	} else if tr.Rolled && cur.Regime != models.RegimeNormal {
		o.log.Info("regime returned to normal", logger.String("previous", string(cur.Regime)))
	}

	// One stream per instrument, drawn in key order, keeps seeded runs independent of scheduling.
	streams := make([]*rand.Rand, len(instruments))
	for i := range streams {
		streams[i] = simulation.Split(o.rng)
	}

	priced := make([]pricedInstrument, len(instruments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range instruments {
		g.Go(func() error {
			priced[i] = o.priceInstrument(gctx, instruments[i], tr, streams[i], tickTime)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("price instruments: %w", err)
	}

	updated := make([]models.LivePrice, 0, len(priced))
	bars := make([]models.Bar, 0, len(priced))
	for _, p := range priced {
		if !p.ok {
			continue
		}
		updated = append(updated, models.LivePrice{
			Key:        p.live.Key,
			Price:      p.tick.NewPrice,
			LastUpdate: tickTime,
			Source:     p.tick.Source,
		})
		bars = append(bars, p.tick.Bar)
	}
	skipped := len(instruments) - len(updated)

	if len(bars) > 0 {
		if err := o.history.AppendBars(ctx, bars); err != nil {
			o.metrics.RecordError("history_append")
			return nil, fmt.Errorf("append history: %w", err)
		}
	}

	// Bars are committed; live prices must follow even if the caller goes away now.
	if err := o.applyPrices(context.WithoutCancel(ctx), updated); err != nil {
		o.metrics.RecordError("price_update")
		return nil, fmt.Errorf("update prices: %w", err)
	}

	if err := o.regimes.SetRegime(ctx, tr.Next); err != nil {
		o.metrics.RecordError("regime_persist")
		o.log.Error("regime persistence failed",
			logger.String("regime", string(tr.Next.Regime)),
			logger.Int("remaining", tr.Next.RemainingTicks),
			logger.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrRegimePersistence, err)
	}

	res := &models.TickResult{
		TickID:         uuid.NewString(),
		TickTime:       tickTime,
		Updated:        len(updated),
		Skipped:        skipped,
		Regime:         tr.Effective.Regime,
		RemainingTicks: tr.Next.RemainingTicks,
		StartedAt:      tr.Next.StartedAt,
		Duration:       time.Since(start),
	}

	o.metrics.RecordTick(string(res.Regime), res.Updated, res.Skipped, res.Duration.Seconds())
	o.metrics.RecordRegime(string(tr.Next.Regime), tr.Next.RemainingTicks)
	o.metrics.RecordLatency("tick", res.Duration.Seconds())
	for _, lp := range updated {
		o.metrics.RecordLastPrice(lp.Key.String(), lp.Price.InexactFloat64())
	}

	if o.pub != nil {
		ev := &models.TickEvent{Result: *res, Prices: updated, Bars: bars}
		if err := o.pub.PublishTick(ctx, ev); err != nil {
			o.metrics.RecordError("publish")
			o.log.Warn("publish tick failed", logger.String("tick_id", res.TickID), logger.Error(err))
		}
	}

	o.log.Info("tick completed",
		logger.String("tick_id", res.TickID),
		logger.String("regime", string(res.Regime)),
		logger.Int("remaining", res.RemainingTicks),
		logger.Int("updated", res.Updated),
		logger.Int("skipped", res.Skipped),
		logger.Duration("duration_ms", res.Duration),
	)
	return res, nil
}

func (o *Orchestrator) priceInstrument(
	ctx context.Context,
	live models.LivePrice,
	tr simulation.Transition,
	rng simulation.Rand,
	ts time.Time,
) pricedInstrument {
	out := pricedInstrument{live: live}

	vol := o.volatility(ctx, live.Key)
	tick, ok := o.gen.Generate(simulation.Input{
		Key:        live.Key,
		OldPrice:   live.Price,
		Volatility: vol,
		Regime:     tr.Effective.Regime,
		Params:     tr.Params,
		Time:       ts,
	}, rng)
	if !ok {
		o.log.Debug("non-positive price skipped",
			logger.Stringer("instrument", live.Key),
			logger.Float64("pct_change", tick.PctChange),
		)
		return out
	}
	out.tick, out.ok = tick, true
	return out
}

// applyPrices writes the staged live prices once their bars are in the history log.
func (o *Orchestrator) applyPrices(ctx context.Context, updated []models.LivePrice) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, lp := range updated {
		g.Go(func() error {
			if err := o.prices.UpdatePrice(gctx, lp.Key, lp.Price, lp.LastUpdate, lp.Source); err != nil {
				return fmt.Errorf("%s: %w", lp.Key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// volatility falls back to the neutral scalar on lookup errors, missing or non-positive records.
func (o *Orchestrator) volatility(ctx context.Context, key models.InstrumentKey) float64 {
	v, found, err := o.vols.GetVolatility(ctx, key)
	switch {
	case err != nil:
		o.metrics.RecordError("volatility_lookup")
		o.log.Warn("volatility lookup failed", logger.Stringer("instrument", key), logger.Error(err))
	case !found:
		o.metrics.RecordError("volatility_default")
	case v <= 0:
		o.metrics.RecordError("volatility_default")
		o.log.Warn("non-positive volatility ignored", logger.Stringer("instrument", key), logger.Float64("volatility", v))
	default:
		return v
	}
	return models.DefaultVolatility
}

// tickTime never goes backwards so each instrument's bars stay strictly ordered. The
// floor is the newest stored update as well as this process's last tick, which keeps
// the order across restarts and across nodes sharing one backend.
func (o *Orchestrator) tickTime(instruments []models.LivePrice) time.Time {
	floor := o.lastTick
	for _, lp := range instruments {
		if lp.LastUpdate.After(floor) {
			floor = lp.LastUpdate
		}
	}
	t := o.now().UTC().Truncate(time.Microsecond)
	if !t.After(floor) {
		t = floor.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	o.lastTick = t
	return t
}
