package simulation

import (
	"testing"
	"time"

	"TradeAlchemist/internal/domain/models"

	"pgregory.net/rapid"
)

// forcedRand returns first for the first Float64 call and defers to r afterwards.
type forcedRand struct {
	Rand
	first float64
	used  bool
}

func (f *forcedRand) Float64() float64 {
	if !f.used {
		f.used = true
		return f.first
	}
	return f.Rand.Float64()
}

func TestRegimeHoldDecrementsWithoutRoll(t *testing.T) {
	m := NewRegimeMachine(DefaultRegimeConfig())
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rapid.Check(t, func(t *rapid.T) {
		regime := rapid.SampledFrom([]models.Regime{models.RegimeNormal, models.RegimeCrash, models.RegimeBoom}).Draw(t, "regime")
		remaining := rapid.IntRange(1, 100).Draw(t, "remaining")
		seed := rapid.Int64().Draw(t, "seed")

		cur := models.RegimeState{Regime: regime, RemainingTicks: remaining, StartedAt: started}
		tr := m.Transition(cur, NewRand(seed), started.Add(time.Hour))

		if tr.Rolled {
			t.Fatalf("held regime must not roll")
		}
		if tr.Effective != cur {
			t.Fatalf("effective state changed: %+v -> %+v", cur, tr.Effective)
		}
		if tr.Next.Regime != regime {
			t.Fatalf("regime changed during hold: %s -> %s", regime, tr.Next.Regime)
		}
		if tr.Next.RemainingTicks != remaining-1 {
			t.Fatalf("expected remaining %d, got %d", remaining-1, tr.Next.RemainingTicks)
		}
		if !tr.Next.StartedAt.Equal(started) {
			t.Fatalf("started_at moved during hold")
		}
	})
}

func TestForcedCrashHoldsForDrawnDuration(t *testing.T) {
	cfg := DefaultRegimeConfig()
	m := NewRegimeMachine(cfg)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for seed := int64(1); seed <= 50; seed++ {
		rng := &forcedRand{Rand: NewRand(seed), first: cfg.CrashProb / 2}
		tr := m.Transition(models.RegimeState{Regime: models.RegimeNormal}, rng, now)

		if !tr.Rolled || tr.Effective.Regime != models.RegimeCrash {
			t.Fatalf("seed %d: expected CRASH roll, got %+v", seed, tr.Effective)
		}
		d := tr.Next.RemainingTicks
		if d < cfg.CrashMinTicks || d > cfg.CrashMaxTicks {
			t.Fatalf("seed %d: duration %d outside [%d, %d]", seed, d, cfg.CrashMinTicks, cfg.CrashMaxTicks)
		}
		if tr.Params.Multiplier != cfg.CrashMultiplier || tr.Params.Bias != cfg.CrashBias {
			t.Fatalf("seed %d: unexpected params %+v", seed, tr.Params)
		}

		// A source that always asks for a crash would re-roll immediately if allowed to.
		always := &forcedRand{Rand: NewRand(seed), first: 0}
		state := tr.Next
		for i := 0; i < d; i++ {
			always.used = false
			step := m.Transition(state, always, now.Add(time.Duration(i+1)*time.Second))
			if step.Rolled {
				t.Fatalf("seed %d: re-rolled on hold call %d of %d", seed, i+1, d)
			}
			if step.Effective.Regime != models.RegimeCrash {
				t.Fatalf("seed %d: regime left CRASH during hold", seed)
			}
			state = step.Next
		}
		if state.RemainingTicks != 0 {
			t.Fatalf("seed %d: expected 0 remaining after hold, got %d", seed, state.RemainingTicks)
		}

		always.used = false
		if next := m.Transition(state, always, now); !next.Rolled {
			t.Fatalf("seed %d: expected re-roll once the hold expired", seed)
		}
	}
}

func TestRegimeRerollFrequencies(t *testing.T) {
	cfg := DefaultRegimeConfig()
	cfg.CrashProb = 0.1
	cfg.BoomProb = 0.2
	m := NewRegimeMachine(cfg)
	rng := NewRand(20240601)

	const trials = 100000
	counts := map[models.Regime]int{}
	for i := 0; i < trials; i++ {
		tr := m.Transition(models.RegimeState{Regime: models.RegimeNormal}, rng, time.Unix(0, 0))
		counts[tr.Next.Regime]++

		switch tr.Next.Regime {
		case models.RegimeCrash:
			if tr.Next.RemainingTicks < cfg.CrashMinTicks || tr.Next.RemainingTicks > cfg.CrashMaxTicks {
				t.Fatalf("crash duration %d out of range", tr.Next.RemainingTicks)
			}
		case models.RegimeBoom:
			if tr.Next.RemainingTicks < cfg.BoomMinTicks || tr.Next.RemainingTicks > cfg.BoomMaxTicks {
				t.Fatalf("boom duration %d out of range", tr.Next.RemainingTicks)
			}
		case models.RegimeNormal:
			if tr.Next.RemainingTicks != 0 {
				t.Fatalf("normal regime must have 0 remaining, got %d", tr.Next.RemainingTicks)
			}
		default:
			t.Fatalf("unexpected regime %q", tr.Next.Regime)
		}
	}

	check := func(r models.Regime, want float64) {
		got := float64(counts[r]) / trials
		if got < want-0.01 || got > want+0.01 {
			t.Fatalf("%s frequency %.4f, want %.2f±0.01", r, got, want)
		}
	}
	check(models.RegimeCrash, 0.1)
	check(models.RegimeBoom, 0.2)
	check(models.RegimeNormal, 0.7)
}

func TestRegimeStartedAtTracksEpisodes(t *testing.T) {
	m := NewRegimeMachine(DefaultRegimeConfig())
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	normal := models.RegimeState{Regime: models.RegimeNormal, StartedAt: t0}
	tr := m.Transition(normal, &forcedRand{Rand: NewRand(1), first: 0.99}, t1)
	if tr.Next.Regime != models.RegimeNormal || !tr.Next.StartedAt.Equal(t0) {
		t.Fatalf("normal continuation must keep started_at, got %+v", tr.Next)
	}

	tr = m.Transition(normal, &forcedRand{Rand: NewRand(1), first: 0}, t1)
	if tr.Next.Regime != models.RegimeCrash || !tr.Next.StartedAt.Equal(t1) {
		t.Fatalf("new episode must stamp started_at, got %+v", tr.Next)
	}

	tr = m.Transition(models.RegimeState{}, &forcedRand{Rand: NewRand(1), first: 0.99}, t1)
	if !tr.Next.StartedAt.Equal(t1) {
		t.Fatalf("empty state must be stamped, got %v", tr.Next.StartedAt)
	}
}

func TestRegimeParams(t *testing.T) {
	cfg := DefaultRegimeConfig()
	m := NewRegimeMachine(cfg)

	if p := m.Params(models.RegimeNormal); p != models.NeutralParams {
		t.Fatalf("normal params %+v", p)
	}
	if p := m.Params(models.RegimeCrash); p.Multiplier < 1 || p.Bias >= 0 {
		t.Fatalf("crash params %+v", p)
	}
	if p := m.Params(models.RegimeBoom); p.Multiplier < 1 || p.Bias <= 0 {
		t.Fatalf("boom params %+v", p)
	}
}

func TestRegimeConfigValidate(t *testing.T) {
	if err := DefaultRegimeConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultRegimeConfig()
	bad.CrashProb, bad.BoomProb = 0.7, 0.5
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected probability error")
	}

	bad = DefaultRegimeConfig()
	bad.CrashMaxTicks = bad.CrashMinTicks - 1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected duration error")
	}

	bad = DefaultRegimeConfig()
	bad.BoomBias = -0.1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected bias error")
	}
}
