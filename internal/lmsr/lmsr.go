// Package lmsr implements the Logarithmic Market Scoring Rule automated
// market maker for a binary outcome.
//
// Prices derive from the convex cost function
//
//	C(qYes, qNo) = b · ln(exp(qYes/b) + exp(qNo/b))
//
// so the instantaneous YES price is the softmax of the inventories and the
// market maker's worst-case loss across any trade sequence and outcome is
// bounded by b · ln 2. All arithmetic runs through the fixed-precision
// facade; the cost function is evaluated with the shift-to-zero trick
// (max(qYes,qNo)/b factored out) so large inventories cannot overflow the
// exponential.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design".
package lmsr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"predictsim/internal/num"
	"predictsim/pkg/types"
)

var (
	// ErrInvalidLiquidity is returned when the liquidity parameter b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrInvalidQty is returned for a non-positive trade quantity.
	ErrInvalidQty = errors.New("lmsr: quantity must be positive")

	// ErrInvalidSpend is returned for a non-positive spend amount.
	ErrInvalidSpend = errors.New("lmsr: spend must be positive")

	// ErrInvalidOutcome is returned for an outcome tag other than YES/NO.
	ErrInvalidOutcome = errors.New("lmsr: invalid outcome")

	// ErrSettled is returned when quoting or trading a settled market.
	ErrSettled = errors.New("lmsr: market is settled")

	// ErrAlreadySettled is returned when settle is invoked twice.
	ErrAlreadySettled = errors.New("lmsr: market already settled")

	// ErrPrecision is returned when the spend bisection fails to converge
	// within its iteration cap. This indicates an implementation bug and
	// must surface loudly, never be retried.
	ErrPrecision = errors.New("lmsr: bisection failed to converge")
)

// spendTolerance is the bisection convergence bound, in spend units.
var spendTolerance = num.D("0.000000001")

// Bisection bounds: fixed, seed-free, so quoting is deterministic.
const (
	maxBracketDoublings = 64
	maxBisectIterations = 200
)

// State is the LMSR market state. B is immutable after init; qYes and qNo
// are monotone non-decreasing until settlement.
type State struct {
	B              decimal.Decimal
	QYes           decimal.Decimal
	QNo            decimal.Decimal
	TotalCollected decimal.Decimal
	Settled        bool
	Outcome        types.Outcome
}

// NewState creates a fresh market with liquidity parameter b.
func NewState(b decimal.Decimal) (*State, error) {
	if b.Sign() <= 0 {
		return nil, ErrInvalidLiquidity
	}
	return &State{B: b}, nil
}

// Clone copies the state.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// Snapshot renders the state as the shared AMM snapshot type.
func (s *State) Snapshot() types.AMMSnapshot {
	pYes, pNo := Prices(s)
	snap := types.AMMSnapshot{
		B:              s.B,
		QYes:           s.QYes,
		QNo:            s.QNo,
		PriceYes:       pYes,
		PriceNo:        pNo,
		TotalCollected: s.TotalCollected,
		Settled:        s.Settled,
	}
	if s.Settled {
		o := s.Outcome
		snap.Outcome = &o
	}
	return snap
}

// expShifted returns exp((qYes-m)/b) and exp((qNo-m)/b) for m = max(qYes,qNo).
// Shifting by the max keeps both exponents non-positive regardless of
// inventory size.
func expShifted(s *State) (eYes, eNo, shift decimal.Decimal) {
	shift = num.Max(s.QYes, s.QNo)
	eYes = num.Exp(num.Div(s.QYes.Sub(shift), s.B))
	eNo = num.Exp(num.Div(s.QNo.Sub(shift), s.B))
	return eYes, eNo, shift
}

// Prices returns (pYES, pNO). The pair sums to exactly 1 at working
// precision: pNO is computed as the complement of the rounded pYES.
func Prices(s *State) (pYes, pNo decimal.Decimal) {
	eYes, eNo, _ := expShifted(s)
	pYes = num.Div(eYes, eYes.Add(eNo))
	pNo = num.One.Sub(pYes)
	return pYes, pNo
}

// Price returns the price of one outcome.
func Price(s *State, outcome types.Outcome) decimal.Decimal {
	pYes, pNo := Prices(s)
	if outcome == types.YES {
		return pYes
	}
	return pNo
}

// Cost evaluates C(qYes, qNo). At the origin this equals b · ln 2.
func Cost(s *State) decimal.Decimal {
	eYes, eNo, shift := expShifted(s)
	return num.Round(shift.Add(s.B.Mul(num.Ln(eYes.Add(eNo)))))
}

// WorstCaseLoss returns b · ln 2, the maximum market-maker deficit across
// all final inventories and outcomes.
func WorstCaseLoss(b decimal.Decimal) decimal.Decimal {
	return num.Round(b.Mul(num.Ln2()))
}

// Quote describes the cost of a prospective buy. Quoting never mutates
// state; a failed quote leaves no observable change.
type Quote struct {
	Outcome        types.Outcome
	Qty            decimal.Decimal
	Payment        decimal.Decimal
	AvgPrice       decimal.Decimal
	PriceYesBefore decimal.Decimal
	PriceNoBefore  decimal.Decimal
	PriceYesAfter  decimal.Decimal
	PriceNoAfter   decimal.Decimal
}

// after returns a copy of s with qty added to the outcome's inventory.
func after(s *State, outcome types.Outcome, qty decimal.Decimal) *State {
	n := s.Clone()
	if outcome == types.YES {
		n.QYes = n.QYes.Add(qty)
	} else {
		n.QNo = n.QNo.Add(qty)
	}
	return n
}

// payment returns C(after) - C(before) for buying qty of outcome.
// costBefore is passed in so bisection evaluates the base cost once.
func payment(s *State, costBefore decimal.Decimal, outcome types.Outcome, qty decimal.Decimal) decimal.Decimal {
	return Cost(after(s, outcome, qty)).Sub(costBefore)
}

// QuoteQtyBuy prices the purchase of qty shares of the given outcome.
func QuoteQtyBuy(s *State, outcome types.Outcome, qty decimal.Decimal) (Quote, error) {
	if s.Settled {
		return Quote{}, ErrSettled
	}
	if !outcome.Valid() {
		return Quote{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if qty.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrInvalidQty, qty)
	}

	pYesBefore, pNoBefore := Prices(s)
	next := after(s, outcome, qty)
	pay := num.Round(Cost(next).Sub(Cost(s)))
	pYesAfter, pNoAfter := Prices(next)

	return Quote{
		Outcome:        outcome,
		Qty:            qty,
		Payment:        pay,
		AvgPrice:       num.Div(pay, qty),
		PriceYesBefore: pYesBefore,
		PriceNoBefore:  pNoBefore,
		PriceYesAfter:  pYesAfter,
		PriceNoAfter:   pNoAfter,
	}, nil
}

// QuoteSpendBuy inverts the cost function: it returns the largest quantity
// whose payment does not exceed spend, found by monotone bisection on
// quantity with a fixed bracket and iteration cap. The tolerance is
// expressed in spend units.
func QuoteSpendBuy(s *State, outcome types.Outcome, spend decimal.Decimal) (Quote, error) {
	if s.Settled {
		return Quote{}, ErrSettled
	}
	if !outcome.Valid() {
		return Quote{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if spend.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrInvalidSpend, spend)
	}

	costBefore := Cost(s)

	// Bracket [lo, hi] with payment(lo) <= spend < payment(hi). Since the
	// marginal price is below 1, buying `spend` shares costs less than
	// spend, so the initial hi starts at spend and doubles until the cost
	// reaches it.
	lo := decimal.Zero
	hi := spend
	doublings := 0
	for payment(s, costBefore, outcome, hi).LessThan(spend) {
		lo = hi
		hi = hi.Mul(num.Two)
		doublings++
		if doublings > maxBracketDoublings {
			return Quote{}, ErrPrecision
		}
	}

	converged := false
	for i := 0; i < maxBisectIterations; i++ {
		if spend.Sub(payment(s, costBefore, outcome, lo)).LessThanOrEqual(spendTolerance) {
			converged = true
			break
		}
		mid := num.Div(lo.Add(hi), num.Two)
		if payment(s, costBefore, outcome, mid).LessThanOrEqual(spend) {
			lo = mid
		} else {
			hi = mid
		}
	}
	if !converged && spend.Sub(payment(s, costBefore, outcome, lo)).GreaterThan(spendTolerance) {
		return Quote{}, ErrPrecision
	}
	if lo.Sign() <= 0 {
		// Spend too small to purchase any quantity above tolerance.
		return Quote{}, fmt.Errorf("%w: spend %s below minimum purchasable", ErrInvalidSpend, spend)
	}

	return QuoteQtyBuy(s, outcome, lo)
}
