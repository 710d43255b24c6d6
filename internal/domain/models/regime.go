package models

import (
	"fmt"
	"strings"
	"time"
)

// Regime is the market-wide price mode.
type Regime string

const (
	RegimeNormal Regime = "NORMAL"
	RegimeCrash  Regime = "CRASH"
	RegimeBoom   Regime = "BOOM"
)

// Valid reports whether r is a known regime.
func (r Regime) Valid() bool {
	switch r {
	case RegimeNormal, RegimeCrash, RegimeBoom:
		return true
	default:
		return false
	}
}

// Lower returns the lowercase name used in source tags.
func (r Regime) Lower() string { return strings.ToLower(string(r)) }

// ParseRegime parses a regime name case-insensitively.
func ParseRegime(s string) (Regime, error) {
	r := Regime(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown regime %q", s)
	}
	return r, nil
}

// RegimeState is the singleton market state.
// While RemainingTicks > 0 the regime is held; at 0 the next tick re-rolls.
type RegimeState struct {
	Regime         Regime    `json:"state"`
	RemainingTicks int       `json:"remaining_ticks"`
	StartedAt      time.Time `json:"started_at"`
}

// RegimeParams are the price-process parameters of a regime.
type RegimeParams struct {
	Multiplier float64 `json:"multiplier"`
	Bias       float64 `json:"bias"`
}

// NeutralParams is the NORMAL parameter set.
var NeutralParams = RegimeParams{Multiplier: 1.0, Bias: 0}
