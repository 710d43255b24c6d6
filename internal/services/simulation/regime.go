package simulation

import (
	"fmt"
	"time"

	"TradeAlchemist/internal/domain/models"
)

// RegimeConfig holds the regime probabilities, durations and parameters.
type RegimeConfig struct {
	CrashProb       float64
	BoomProb        float64
	CrashMinTicks   int
	CrashMaxTicks   int
	BoomMinTicks    int
	BoomMaxTicks    int
	CrashMultiplier float64
	BoomMultiplier  float64
	CrashBias       float64
	BoomBias        float64
}

// DefaultRegimeConfig returns the stock market-regime constants.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		CrashProb:       0.002,
		BoomProb:        0.003,
		CrashMinTicks:   5,
		CrashMaxTicks:   15,
		BoomMinTicks:    5,
		BoomMaxTicks:    10,
		CrashMultiplier: 2.5,
		BoomMultiplier:  1.5,
		CrashBias:       -0.002,
		BoomBias:        0.0015,
	}
}

// Validate checks the constants are internally consistent.
func (c RegimeConfig) Validate() error {
	if c.CrashProb < 0 || c.BoomProb < 0 || c.CrashProb+c.BoomProb > 1 {
		return fmt.Errorf("regime probabilities out of range: crash=%v boom=%v", c.CrashProb, c.BoomProb)
	}
	if c.CrashMinTicks < 1 || c.CrashMaxTicks < c.CrashMinTicks {
		return fmt.Errorf("crash duration range invalid: [%d, %d]", c.CrashMinTicks, c.CrashMaxTicks)
	}
	if c.BoomMinTicks < 1 || c.BoomMaxTicks < c.BoomMinTicks {
		return fmt.Errorf("boom duration range invalid: [%d, %d]", c.BoomMinTicks, c.BoomMaxTicks)
	}
	if c.CrashMultiplier < 1 || c.BoomMultiplier < 1 {
		return fmt.Errorf("regime multipliers must be >= 1")
	}
	if c.CrashBias > 0 || c.BoomBias < 0 {
		return fmt.Errorf("crash bias must be <= 0 and boom bias >= 0")
	}
	return nil
}

// Transition is the outcome of evolving the regime for one tick.
type Transition struct {
	// Effective is the state whose parameters price this tick.
	Effective models.RegimeState
	Params    models.RegimeParams
	// Next is the state to persist once the tick completes.
	Next   models.RegimeState
	Rolled bool
}

// RegimeMachine decides, once per tick, whether to start, hold or end a regime.
// It is stateless; the state lives in a RegimeStore.
type RegimeMachine struct {
	cfg RegimeConfig
}

func NewRegimeMachine(cfg RegimeConfig) *RegimeMachine {
	return &RegimeMachine{cfg: cfg}
}

// Params maps a regime to its multiplier and drift bias.
func (m *RegimeMachine) Params(r models.Regime) models.RegimeParams {
	switch r {
	case models.RegimeCrash:
		return models.RegimeParams{Multiplier: m.cfg.CrashMultiplier, Bias: m.cfg.CrashBias}
	case models.RegimeBoom:
		return models.RegimeParams{Multiplier: m.cfg.BoomMultiplier, Bias: m.cfg.BoomBias}
	default:
		return models.NeutralParams
	}
}

// Transition evolves cur by one tick. A held regime is decremented; an expired one is re-rolled
// and the drawn duration is persisted untouched.
func (m *RegimeMachine) Transition(cur models.RegimeState, rng Rand, now time.Time) Transition {
	if cur.RemainingTicks > 0 && cur.Regime.Valid() {
		next := cur
		next.RemainingTicks = cur.RemainingTicks - 1
		return Transition{
			Effective: cur,
			Params:    m.Params(cur.Regime),
			Next:      next,
		}
	}

	regime, duration := m.roll(rng)
	started := cur.StartedAt
	if regime != cur.Regime || regime != models.RegimeNormal || started.IsZero() {
		started = now
	}
	st := models.RegimeState{Regime: regime, RemainingTicks: duration, StartedAt: started}
	return Transition{
		Effective: st,
		Params:    m.Params(regime),
		Next:      st,
		Rolled:    true,
	}
}

func (m *RegimeMachine) roll(rng Rand) (models.Regime, int) {
	r := rng.Float64()
	switch {
	case r < m.cfg.CrashProb:
		return models.RegimeCrash, IntRange(rng, m.cfg.CrashMinTicks, m.cfg.CrashMaxTicks)
	case r < m.cfg.CrashProb+m.cfg.BoomProb:
		return models.RegimeBoom, IntRange(rng, m.cfg.BoomMinTicks, m.cfg.BoomMaxTicks)
	default:
		return models.RegimeNormal, 0
	}
}
