// Package num is the fixed-precision arithmetic facade for the trading core.
//
// Every price, quantity and cash amount in the system is a shopspring
// decimal, and every operation whose result depends on precision goes
// through this package so the whole core computes in one context: 28
// fractional digits, half-up rounding, and transcendentals evaluated by the
// decimal library's arbitrary-precision series rather than float64.
//
// The stable String form of a decimal drives determinism of logs and golden
// files — identical computations emit byte-identical strings across runs.
package num

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the working precision in fractional digits. All magnitudes in
// this domain (prices below 1, cash in the tens of thousands) carry at
// least 28 significant digits at this scale.
const Scale int32 = 28

// guard adds headroom to intermediate transcendental evaluations so the
// final half-up rounding at Scale is settled.
const guard int32 = 6

// Frequently used constants.
var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
	Two  = decimal.NewFromInt(2)
	Half = decimal.New(5, -1)
)

// D parses a decimal literal, panicking on malformed input. It is intended
// for constants and test fixtures, mirroring decimal.RequireFromString.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// FromInt converts an int64.
func FromInt(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

// Ptr returns a pointer to a copy of d, for optional fields.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	c := d
	return &c
}

// Round applies the facade's half-up rounding at working scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Div divides at working scale with half-up rounding. Plain Decimal.Div
// rounds at the package default of 16 digits and must not be used in
// the core.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, Scale)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	return decimal.Min(a, b)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	return decimal.Max(a, b)
}

// Exp evaluates e^x at working scale.
func Exp(x decimal.Decimal) decimal.Decimal {
	v, err := x.ExpTaylor(Scale + guard)
	if err != nil {
		panic(fmt.Sprintf("num: exp(%s): %v", x, err))
	}
	return v.Round(Scale)
}

// Ln evaluates the natural logarithm of x at working scale.
// x must be strictly positive; a non-positive argument is a caller bug.
func Ln(x decimal.Decimal) decimal.Decimal {
	v, err := x.Ln(Scale + guard)
	if err != nil {
		panic(fmt.Sprintf("num: ln(%s): %v", x, err))
	}
	return v.Round(Scale)
}

// Sqrt evaluates the square root of x at working scale.
// x must be non-negative; a negative argument is a caller bug.
func Sqrt(x decimal.Decimal) decimal.Decimal {
	if x.IsZero() {
		return decimal.Zero
	}
	v, err := x.PowWithPrecision(Half, Scale+guard)
	if err != nil {
		panic(fmt.Sprintf("num: sqrt(%s): %v", x, err))
	}
	return v.Round(Scale)
}

// Ln2 returns ln 2 at working scale. Worst-case market-maker loss for a
// binary LMSR is b times this value.
func Ln2() decimal.Decimal {
	return Ln(Two)
}

// String28 renders d rounded to working scale with trailing zeros trimmed.
// This is the canonical textual form used in golden snapshots.
func String28(d decimal.Decimal) string {
	return d.Round(Scale).String()
}
