// Package sim generates deterministic synthetic order flow and drives it
// through an engine, collecting per-intent snapshots, results and logs.
//
// Everything downstream of the seed is reproducible: the PRNG is a
// portable 32-bit state machine whose bit sequence is fixed by the seed,
// intent ids derive from the RNG byte stream, and timestamps are logical.
// Identical (seed, scenario, engine config) tuples produce byte-identical
// simulation output.
package sim

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// RNG is a Mulberry32 generator. The state transition is specified
// exactly so ports in other languages reproduce the same stream for the
// same seed.
type RNG struct {
	state uint32
}

// NewRNG seeds a generator.
func NewRNG(seed uint32) *RNG {
	return &RNG{state: seed}
}

// next advances the Mulberry32 state machine and returns 32 random bits.
func (r *RNG) next() uint32 {
	r.state += 0x6D2B79F5
	z := r.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	return z ^ (z >> 14)
}

// Float64 returns a uniform draw in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.next()) / 4294967296.0
}

// Int returns a uniform draw in [0, n).
func (r *RNG) Int(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Float64() * float64(n))
}

// Range returns a uniform draw in [min, max).
func (r *RNG) Range(min, max float64) float64 {
	return min + r.Float64()*(max-min)
}

// Choice returns a uniform pick from xs. Empty input is a caller bug.
func Choice[T any](r *RNG, xs []T) T {
	return xs[r.Int(len(xs))]
}

// Normal returns a Gaussian draw via the Box-Muller transform. One draw
// consumes exactly two uniforms, keeping the stream position predictable.
func (r *RNG) Normal(mean, stddev float64) float64 {
	u1 := 1.0 - r.Float64()
	u2 := r.Float64()
	z := math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
	return mean + stddev*z
}

// Exp returns an exponential draw with the given rate via inverse CDF.
func (r *RNG) Exp(rate float64) float64 {
	u := 1.0 - r.Float64()
	return -math.Log(u) / rate
}

// Fork derives an independent sub-stream deterministically from the
// parent's next draw.
func (r *RNG) Fork() *RNG {
	return NewRNG(r.next())
}

// UUID builds a deterministic v4-shaped UUID from the RNG byte stream.
func (r *RNG) UUID() string {
	var b [16]byte
	for i := 0; i < 16; i += 4 {
		binary.BigEndian.PutUint32(b[i:i+4], r.next())
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		// 16 bytes can never fail to parse.
		panic(err)
	}
	return id.String()
}
