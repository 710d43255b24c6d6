package simulation

import (
	"fmt"
	"time"

	"TradeAlchemist/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Profile parameterizes the tick generator. The historical engine versions are presets.
type Profile struct {
	Version         int
	BaseMove        float64
	VolatilityAware bool
	RegimeAware     bool
	VolumeMin       uint64
	VolumeMax       uint64
}

// ProfileFor returns the preset of an engine version:
//   - 1: fixed ±0.2% move
//   - 2: ±0.1% scaled by instrument volatility
//   - 3: version 2 plus regime multiplier and drift
func ProfileFor(version int) (Profile, error) {
	p := Profile{Version: version, VolumeMin: 1000, VolumeMax: 10000}
	switch version {
	case 1:
		p.BaseMove = 0.002
	case 2:
		p.BaseMove = 0.001
		p.VolatilityAware = true
	case 3:
		p.BaseMove = 0.001
		p.VolatilityAware = true
		p.RegimeAware = true
	default:
		return Profile{}, fmt.Errorf("unsupported generator version %d", version)
	}
	return p, nil
}

// Input is everything the generator needs to price one instrument for one tick.
type Input struct {
	Key        models.InstrumentKey
	OldPrice   decimal.Decimal
	Volatility float64
	Regime     models.Regime
	Params     models.RegimeParams
	Time       time.Time
}

// Tick is the generated price and its bar.
type Tick struct {
	NewPrice  decimal.Decimal
	PctChange float64
	Bar       models.Bar
	Source    models.PriceSource
}

// Generator is a pure function of its input and the random stream.
type Generator struct {
	p Profile
}

func NewGenerator(p Profile) *Generator {
	if p.VolumeMax < p.VolumeMin {
		p.VolumeMax = p.VolumeMin
	}
	return &Generator{p: p}
}

// Profile returns the active preset.
func (g *Generator) Profile() Profile { return g.p }

// MaxMove is the half-width of the uniform percentage draw.
func (g *Generator) MaxMove(volatility float64, params models.RegimeParams) float64 {
	m := g.p.BaseMove
	if g.p.VolatilityAware {
		m *= volatility
	}
	if g.p.RegimeAware {
		m *= params.Multiplier
	}
	return m
}

// Generate advances one price. ok is false when the new price is not positive, in which
// case the instrument must be left untouched for this tick.
func (g *Generator) Generate(in Input, rng Rand) (Tick, bool) {
	maxMove := g.MaxMove(in.Volatility, in.Params)
	pct := Uniform(rng, -maxMove, maxMove)
	if g.p.RegimeAware {
		pct += in.Params.Bias
	}

	newPrice := in.OldPrice.Mul(decimal.NewFromFloat(1 + pct)).Round(2)
	if !newPrice.IsPositive() {
		return Tick{PctChange: pct}, false
	}

	volume := g.p.VolumeMin + uint64(rng.IntN(int(g.p.VolumeMax-g.p.VolumeMin)+1))
	return Tick{
		NewPrice:  newPrice,
		PctChange: pct,
		Bar:       models.NewBar(in.Key, in.Time, in.OldPrice, newPrice, volume),
		Source:    g.Source(in.Regime),
	}, true
}

// Source tags live prices with the engine version and, when regime-aware, the regime.
func (g *Generator) Source(r models.Regime) models.PriceSource {
	if g.p.RegimeAware && r.Valid() {
		return models.PriceSource(fmt.Sprintf("simulation_v%d_%s", g.p.Version, r.Lower()))
	}
	return models.PriceSource(fmt.Sprintf("simulation_v%d", g.p.Version))
}
