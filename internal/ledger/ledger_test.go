package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"predictsim/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAddTrader(t *testing.T) {
	t.Parallel()
	l := New()

	acct, err := l.AddTrader("alice", d("100"))
	if err != nil {
		t.Fatalf("AddTrader: %v", err)
	}
	if !acct.Cash.Equal(d("100")) {
		t.Errorf("cash = %s, want 100", acct.Cash)
	}

	if _, err := l.AddTrader("alice", d("50")); !errors.Is(err, ErrDuplicateTrader) {
		t.Errorf("duplicate: err = %v, want ErrDuplicateTrader", err)
	}
	if _, err := l.AddTrader("", d("50")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty id: err = %v, want ErrInvalidInput", err)
	}
	if _, err := l.AddTrader("bob", d("-1")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative cash: err = %v, want ErrInvalidInput", err)
	}
}

func TestTraderLookup(t *testing.T) {
	t.Parallel()
	l := New()
	l.AddTrader("alice", d("100"))

	if _, err := l.Trader("alice"); err != nil {
		t.Errorf("Trader(alice): %v", err)
	}
	if _, err := l.Trader("mallory"); !errors.Is(err, ErrUnknownTrader) {
		t.Errorf("unknown: err = %v, want ErrUnknownTrader", err)
	}
}

func TestAccountsKeepRegistrationOrder(t *testing.T) {
	t.Parallel()
	l := New()
	for _, id := range []string{"zed", "alice", "mike"} {
		l.AddTrader(id, d("1"))
	}
	got := l.Accounts()
	want := []string{"zed", "alice", "mike"}
	for i, acct := range got {
		if acct.ID != want[i] {
			t.Errorf("Accounts()[%d] = %s, want %s", i, acct.ID, want[i])
		}
	}
}

func TestSellableQty(t *testing.T) {
	t.Parallel()
	acct, _ := NewAccount("alice", d("100"))
	acct.YesShares = d("50")
	acct.PendingSellQty = d("20")
	if got := acct.SellableQty(); !got.Equal(d("30")) {
		t.Errorf("SellableQty = %s, want 30", got)
	}
}

func TestApplyExecutionIdempotent(t *testing.T) {
	t.Parallel()
	l := New()
	l.AddTrader("alice", d("100"))

	res := &types.ExecutionResult{
		Intent: types.OrderIntent{ID: "intent-1"},
		BalanceDeltas: map[string]types.BalanceDelta{
			"alice": {Cash: d("-10"), YesShares: d("20")},
		},
	}
	if err := l.ApplyExecution(res); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := l.ApplyExecution(res); err != nil {
		t.Fatalf("replay: %v", err)
	}

	acct, _ := l.Trader("alice")
	if !acct.Cash.Equal(d("90")) {
		t.Errorf("cash = %s, want 90 (replay must be a no-op)", acct.Cash)
	}
	if !acct.YesShares.Equal(d("20")) {
		t.Errorf("shares = %s, want 20", acct.YesShares)
	}
}

func TestApplyExecutionRejectsNegativeBalance(t *testing.T) {
	t.Parallel()
	l := New()
	l.AddTrader("alice", d("5"))

	res := &types.ExecutionResult{
		Intent: types.OrderIntent{ID: "intent-1"},
		BalanceDeltas: map[string]types.BalanceDelta{
			"alice": {Cash: d("-10")},
		},
	}
	if err := l.ApplyExecution(res); !errors.Is(err, ErrNegativeCash) {
		t.Errorf("err = %v, want ErrNegativeCash", err)
	}
}

func TestApplySettlementIdempotentAndFreezing(t *testing.T) {
	t.Parallel()
	l := New()
	acct, _ := l.AddTrader("alice", d("100"))
	acct.YesShares = d("30")

	res := &SettlementResult{
		ID:      "settle-1",
		Outcome: types.YES,
		Payouts: map[string]decimal.Decimal{"alice": d("30")},
	}
	if err := l.ApplySettlement(res); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := l.ApplySettlement(res); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if !acct.Cash.Equal(d("130")) {
		t.Errorf("cash = %s, want 130", acct.Cash)
	}
	if !acct.YesShares.IsZero() {
		t.Errorf("shares = %s, want 0", acct.YesShares)
	}
	if !l.Settled() || l.Outcome() != types.YES {
		t.Error("ledger not marked settled")
	}

	if _, err := l.AddTrader("late", d("1")); !errors.Is(err, ErrSettled) {
		t.Errorf("post-settle add: err = %v, want ErrSettled", err)
	}
	if err := l.ApplyExecution(&types.ExecutionResult{Intent: types.OrderIntent{ID: "x"}}); !errors.Is(err, ErrSettled) {
		t.Errorf("post-settle execution: err = %v, want ErrSettled", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	l := New()
	acct, _ := l.AddTrader("alice", d("100"))
	acct.OpenOrders["ord-1"] = struct{}{}

	c := l.Clone()
	cloned, _ := c.Trader("alice")
	cloned.Cash = d("1")
	delete(cloned.OpenOrders, "ord-1")

	if !acct.Cash.Equal(d("100")) {
		t.Error("clone shares cash with original")
	}
	if _, ok := acct.OpenOrders["ord-1"]; !ok {
		t.Error("clone shares open-order set with original")
	}
}

func TestTotalCash(t *testing.T) {
	t.Parallel()
	l := New()
	l.AddTrader("a", d("10"))
	l.AddTrader("b", d("32.5"))
	if got := l.TotalCash(); !got.Equal(d("42.5")) {
		t.Errorf("TotalCash = %s, want 42.5", got)
	}
}

func TestStateSortsOpenOrders(t *testing.T) {
	t.Parallel()
	acct, _ := NewAccount("alice", d("1"))
	acct.OpenOrders["ord-2"] = struct{}{}
	acct.OpenOrders["ord-10"] = struct{}{}
	acct.OpenOrders["ord-1"] = struct{}{}

	state := acct.State()
	want := []string{"ord-1", "ord-10", "ord-2"} // lexicographic, stable
	for i, id := range state.OpenOrders {
		if id != want[i] {
			t.Errorf("OpenOrders[%d] = %s, want %s", i, id, want[i])
		}
	}
}
