package lmsr

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"predictsim/internal/ledger"
	"predictsim/internal/num"
	"predictsim/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertClose(t *testing.T, got decimal.Decimal, want, tol string) {
	t.Helper()
	if got.Sub(d(want)).Abs().GreaterThan(d(tol)) {
		t.Errorf("got %s, want %s (tol %s)", got, want, tol)
	}
}

func newTestMarket(t *testing.T) *Market {
	t.Helper()
	m, err := NewMarket(d("100"), []ledger.TraderInit{
		{ID: "alice", Cash: d("10000")},
		{ID: "bob", Cash: d("10000")},
	})
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	return m
}

func TestNewStateRejectsNonPositiveB(t *testing.T) {
	t.Parallel()
	for _, b := range []string{"0", "-1"} {
		if _, err := NewState(d(b)); !errors.Is(err, ErrInvalidLiquidity) {
			t.Errorf("NewState(%s): err = %v, want ErrInvalidLiquidity", b, err)
		}
	}
}

func TestPricesAtOrigin(t *testing.T) {
	t.Parallel()
	s, _ := NewState(d("100"))
	pYes, pNo := Prices(s)
	if !pYes.Equal(d("0.5")) || !pNo.Equal(d("0.5")) {
		t.Errorf("origin prices = (%s, %s), want (0.5, 0.5)", pYes, pNo)
	}
}

func TestPricesSumToOneExactly(t *testing.T) {
	t.Parallel()
	s, _ := NewState(d("100"))
	s.QYes = d("173.25")
	s.QNo = d("41.5")
	pYes, pNo := Prices(s)
	if !pYes.Add(pNo).Equal(num.One) {
		t.Errorf("pYES + pNO = %s, want exactly 1", pYes.Add(pNo))
	}
	if pYes.Sign() <= 0 || pYes.GreaterThanOrEqual(num.One) {
		t.Errorf("pYES = %s out of (0,1)", pYes)
	}
}

func TestCostAtOriginIsBLn2(t *testing.T) {
	t.Parallel()
	s, _ := NewState(d("100"))
	assertClose(t, Cost(s), "69.31471805599453094172321215", "0.00000000000000000000001")
}

// Single YES trade against a fresh b=100 market.
func TestSingleYesTrade(t *testing.T) {
	t.Parallel()
	m := newTestMarket(t)

	exec, err := m.ExecuteBuy("alice", types.YES, d("50"))
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}

	if !m.State.QYes.Equal(d("50")) || !m.State.QNo.IsZero() {
		t.Errorf("inventories = (%s, %s), want (50, 0)", m.State.QYes, m.State.QNo)
	}
	assertClose(t, m.State.TotalCollected, "28.09298036201613714557652336", "0.000000000000001")

	pYes, pNo := Prices(m.State)
	assertClose(t, pYes, "0.6224593312018545646389005657", "0.000000000000001")
	assertClose(t, pNo, "0.3775406687981454353610994343", "0.000000000000001")

	alice, _ := m.Ledger.Trader("alice")
	assertClose(t, alice.Cash, "9971.907019637983862854423477", "0.000000000000001")
	if !alice.YesShares.Equal(d("50")) {
		t.Errorf("alice shares = %s, want 50", alice.YesShares)
	}
	if !exec.Quote.Payment.Equal(m.State.TotalCollected) {
		t.Errorf("payment %s != totalCollected %s", exec.Quote.Payment, m.State.TotalCollected)
	}
}

// Balanced YES/NO trades return prices to exactly one half.
func TestBalancedTrades(t *testing.T) {
	t.Parallel()
	m := newTestMarket(t)

	if _, err := m.ExecuteBuy("alice", types.YES, d("50")); err != nil {
		t.Fatalf("alice buy: %v", err)
	}
	if _, err := m.ExecuteBuy("bob", types.NO, d("50")); err != nil {
		t.Fatalf("bob buy: %v", err)
	}

	pYes, pNo := Prices(m.State)
	if !pYes.Equal(d("0.5")) || !pNo.Equal(d("0.5")) {
		t.Errorf("prices = (%s, %s), want exactly (0.5, 0.5)", pYes, pNo)
	}
	if !m.State.QYes.Equal(d("50")) || !m.State.QNo.Equal(d("50")) {
		t.Errorf("inventories = (%s, %s), want (50, 50)", m.State.QYes, m.State.QNo)
	}
	assertClose(t, m.State.TotalCollected, "50.00000000000000000000000005", "0.000000000000001")

	alice, _ := m.Ledger.Trader("alice")
	bob, _ := m.Ledger.Trader("bob")
	assertClose(t, alice.Cash, "9971.907019637983862854423477", "0.000000000000001")
	assertClose(t, bob.Cash, "9978.092980362016137145576523", "0.000000000000001")
}

func TestQuoteExecuteConsistency(t *testing.T) {
	t.Parallel()
	m := newTestMarket(t)
	q, err := QuoteQtyBuy(m.State, types.YES, d("37.5"))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	exec, err := m.ExecuteBuy("alice", types.YES, d("37.5"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !q.Payment.Equal(exec.Quote.Payment) {
		t.Errorf("quoted payment %s != executed payment %s", q.Payment, exec.Quote.Payment)
	}
}

func TestQuoteLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	s, _ := NewState(d("100"))
	before := *s
	if _, err := QuoteQtyBuy(s, types.YES, d("10")); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if *s != before {
		t.Error("quote mutated state")
	}
}

func TestQuoteValidation(t *testing.T) {
	t.Parallel()
	s, _ := NewState(d("100"))

	if _, err := QuoteQtyBuy(s, types.YES, d("0")); !errors.Is(err, ErrInvalidQty) {
		t.Errorf("zero qty: err = %v, want ErrInvalidQty", err)
	}
	if _, err := QuoteQtyBuy(s, types.Outcome("MAYBE"), d("1")); !errors.Is(err, ErrInvalidOutcome) {
		t.Errorf("bad outcome: err = %v, want ErrInvalidOutcome", err)
	}

	s.Settled = true
	if _, err := QuoteQtyBuy(s, types.YES, d("1")); !errors.Is(err, ErrSettled) {
		t.Errorf("settled: err = %v, want ErrSettled", err)
	}
	if _, err := QuoteSpendBuy(s, types.YES, d("1")); !errors.Is(err, ErrSettled) {
		t.Errorf("settled spend: err = %v, want ErrSettled", err)
	}
}

func TestQuoteSpendBuyInvertsPayment(t *testing.T) {
	t.Parallel()
	s, _ := NewState(d("100"))
	spend := d("25")
	q, err := QuoteSpendBuy(s, types.YES, spend)
	if err != nil {
		t.Fatalf("QuoteSpendBuy: %v", err)
	}
	if q.Payment.GreaterThan(spend) {
		t.Errorf("payment %s exceeds spend %s", q.Payment, spend)
	}
	if spend.Sub(q.Payment).GreaterThan(d("0.000000001")) {
		t.Errorf("payment %s not within tolerance of spend %s", q.Payment, spend)
	}
}

func TestQuoteSpendBuyMonotone(t *testing.T) {
	t.Parallel()
	s, _ := NewState(d("100"))
	q1, err := QuoteSpendBuy(s, types.YES, d("10"))
	if err != nil {
		t.Fatalf("spend 10: %v", err)
	}
	q2, err := QuoteSpendBuy(s, types.YES, d("20"))
	if err != nil {
		t.Fatalf("spend 20: %v", err)
	}
	if !q1.Qty.LessThan(q2.Qty) {
		t.Errorf("qty not monotone in spend: %s >= %s", q1.Qty, q2.Qty)
	}
}

func TestQuoteSpendBuyDeterministic(t *testing.T) {
	t.Parallel()
	s, _ := NewState(d("100"))
	q1, err := QuoteSpendBuy(s, types.NO, d("13.37"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	q2, err := QuoteSpendBuy(s, types.NO, d("13.37"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !q1.Qty.Equal(q2.Qty) || !q1.Payment.Equal(q2.Payment) {
		t.Errorf("bisection not deterministic: (%s, %s) vs (%s, %s)",
			q1.Qty, q1.Payment, q2.Qty, q2.Payment)
	}
}

// Splitting a trade into sub-trades pays the same total.
func TestPathIndependence(t *testing.T) {
	t.Parallel()
	whole := newTestMarket(t)
	if _, err := whole.ExecuteBuy("alice", types.YES, d("50")); err != nil {
		t.Fatalf("single: %v", err)
	}

	split := newTestMarket(t)
	for i := 0; i < 5; i++ {
		if _, err := split.ExecuteBuy("alice", types.YES, d("10")); err != nil {
			t.Fatalf("split %d: %v", i, err)
		}
	}

	diff := whole.State.TotalCollected.Sub(split.State.TotalCollected).Abs()
	if diff.GreaterThan(d("0.000000001")) {
		t.Errorf("path dependence: %s vs %s (diff %s)",
			whole.State.TotalCollected, split.State.TotalCollected, diff)
	}
}

func TestExecuteBuyInsufficientCash(t *testing.T) {
	t.Parallel()
	m, err := NewMarket(d("100"), []ledger.TraderInit{{ID: "poor", Cash: d("1")}})
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	before := *m.State
	if _, err := m.ExecuteBuy("poor", types.YES, d("100")); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("err = %v, want ErrInsufficientCash", err)
	}
	if *m.State != before {
		t.Error("failed execution mutated state")
	}
	acct, _ := m.Ledger.Trader("poor")
	if !acct.Cash.Equal(d("1")) {
		t.Errorf("cash = %s, want untouched 1", acct.Cash)
	}
}

func TestExecuteBuyUnknownTrader(t *testing.T) {
	t.Parallel()
	m := newTestMarket(t)
	if _, err := m.ExecuteBuy("mallory", types.YES, d("1")); !errors.Is(err, ledger.ErrUnknownTrader) {
		t.Errorf("err = %v, want ErrUnknownTrader", err)
	}
}

func TestSettlePaysWinners(t *testing.T) {
	t.Parallel()
	m := newTestMarket(t)
	if _, err := m.ExecuteBuy("alice", types.YES, d("50")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	aliceBefore, _ := m.Ledger.Trader("alice")
	cashBefore := aliceBefore.Cash

	settlement, err := m.Settle(types.YES)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !settlement.TotalPayout.Equal(d("50")) {
		t.Errorf("payout = %s, want 50", settlement.TotalPayout)
	}
	alice, _ := m.Ledger.Trader("alice")
	if !alice.Cash.Equal(cashBefore.Add(d("50"))) {
		t.Errorf("alice cash = %s, want %s", alice.Cash, cashBefore.Add(d("50")))
	}
	if !alice.YesShares.IsZero() {
		t.Errorf("alice shares = %s, want 0 after settlement", alice.YesShares)
	}
	// P&L = collected − payout.
	if !settlement.ProfitLoss.Equal(num.Round(m.State.TotalCollected.Sub(d("50")))) {
		t.Errorf("pnl = %s", settlement.ProfitLoss)
	}

	if _, err := m.Settle(types.YES); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("double settle: err = %v, want ErrAlreadySettled", err)
	}
}

func TestSettleLosersGetNothing(t *testing.T) {
	t.Parallel()
	m := newTestMarket(t)
	if _, err := m.ExecuteBuy("alice", types.YES, d("50")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	settlement, err := m.Settle(types.NO)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !settlement.TotalPayout.IsZero() {
		t.Errorf("payout = %s, want 0", settlement.TotalPayout)
	}
	if !settlement.ProfitLoss.Equal(num.Round(m.State.TotalCollected)) {
		t.Errorf("pnl = %s, want full collected amount", settlement.ProfitLoss)
	}
}

// Bounded loss: any trade sequence, any outcome, |loss| <= b·ln2 + tol.
func TestWorstCaseLossBound(t *testing.T) {
	t.Parallel()
	trades := []struct {
		trader  string
		outcome types.Outcome
		qty     string
	}{
		{"alice", types.YES, "120"},
		{"bob", types.NO, "30"},
		{"alice", types.YES, "75.5"},
		{"bob", types.NO, "260"},
		{"alice", types.NO, "14.25"},
	}
	for _, final := range []types.Outcome{types.YES, types.NO} {
		m := newTestMarket(t)
		for _, tr := range trades {
			if _, err := m.ExecuteBuy(tr.trader, tr.outcome, d(tr.qty)); err != nil {
				t.Fatalf("trade: %v", err)
			}
		}
		settlement, err := m.Settle(final)
		if err != nil {
			t.Fatalf("settle %s: %v", final, err)
		}
		bound := WorstCaseLoss(d("100")).Add(d("0.000001"))
		if settlement.ProfitLoss.Neg().GreaterThan(bound) {
			t.Errorf("outcome %s: loss %s exceeds bound %s",
				final, settlement.ProfitLoss.Neg(), bound)
		}
	}
}

func TestInventoriesMonotone(t *testing.T) {
	t.Parallel()
	m := newTestMarket(t)
	prevYes, prevNo := m.State.QYes, m.State.QNo
	for i := 0; i < 4; i++ {
		outcome := types.YES
		if i%2 == 1 {
			outcome = types.NO
		}
		if _, err := m.ExecuteBuy("alice", outcome, d("5")); err != nil {
			t.Fatalf("buy: %v", err)
		}
		if m.State.QYes.LessThan(prevYes) || m.State.QNo.LessThan(prevNo) {
			t.Fatal("inventory decreased before settlement")
		}
		prevYes, prevNo = m.State.QYes, m.State.QNo
	}
}
