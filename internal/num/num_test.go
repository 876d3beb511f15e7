package num

import (
	"testing"

	"github.com/shopspring/decimal"
)

// close28 reports |a-b| <= tol.
func close28(a, b decimal.Decimal, tol string) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.RequireFromString(tol))
}

func TestExpZeroIsOne(t *testing.T) {
	t.Parallel()
	if got := Exp(Zero); !got.Equal(One) {
		t.Errorf("Exp(0) = %s, want 1", got)
	}
}

func TestExpLnRoundTrip(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"0.5", "1", "2.25", "10"} {
		x := D(s)
		got := Ln(Exp(x))
		if !close28(got, x, "0.000000000000000000000001") {
			t.Errorf("Ln(Exp(%s)) = %s", s, got)
		}
	}
}

func TestLnTwo(t *testing.T) {
	t.Parallel()
	// ln 2 = 0.6931471805599453094172321215 (28 significant digits)
	want := D("0.6931471805599453094172321215")
	if got := Ln2(); !close28(got, want, "0.000000000000000000000000001") {
		t.Errorf("Ln2() = %s, want %s", got, want)
	}
}

func TestSqrt(t *testing.T) {
	t.Parallel()
	if got := Sqrt(D("4")); !close28(got, Two, "0.000000000000000000000001") {
		t.Errorf("Sqrt(4) = %s, want 2", got)
	}
	if got := Sqrt(Zero); !got.IsZero() {
		t.Errorf("Sqrt(0) = %s, want 0", got)
	}
}

func TestDivUsesWorkingScale(t *testing.T) {
	t.Parallel()
	got := Div(One, D("3"))
	// 28 fractional digits, half-up.
	want := D("0.3333333333333333333333333333")
	if !got.Equal(want) {
		t.Errorf("Div(1, 3) = %s, want %s", got, want)
	}
}

func TestRoundHalfUp(t *testing.T) {
	t.Parallel()
	x := D("0.00000000000000000000000000005") // 29th fractional digit = 5
	want := D("0.0000000000000000000000000001")
	if got := Round(x); !got.Equal(want) {
		t.Errorf("Round(%s) = %s, want %s", x, got, want)
	}
}

func TestString28Stable(t *testing.T) {
	t.Parallel()
	a := Div(One, D("7"))
	b := Div(One, D("7"))
	if String28(a) != String28(b) {
		t.Errorf("String28 not stable: %s vs %s", String28(a), String28(b))
	}
	if String28(D("50")) != "50" {
		t.Errorf("String28(50) = %s, want 50", String28(D("50")))
	}
}

func TestMinMax(t *testing.T) {
	t.Parallel()
	if got := Min(One, Two); !got.Equal(One) {
		t.Errorf("Min = %s, want 1", got)
	}
	if got := Max(One, Two); !got.Equal(Two) {
		t.Errorf("Max = %s, want 2", got)
	}
}
