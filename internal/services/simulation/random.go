package simulation

import "math/rand/v2"

// Rand is the random source consumed by the simulation. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
	Uint64() uint64
}

// NewRand returns a PCG-backed source. A zero seed draws a random one.
func NewRand(seed int64) *rand.Rand {
	s := uint64(seed)
	if seed == 0 {
		s = rand.Uint64()
	}
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// Split derives an independent stream from r.
func Split(r Rand) *rand.Rand {
	return rand.New(rand.NewPCG(r.Uint64(), r.Uint64()))
}

// Uniform draws from [lo, hi).
func Uniform(r Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}

// IntRange draws an integer from [lo, hi] inclusive.
func IntRange(r Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.IntN(hi-lo+1)
}
