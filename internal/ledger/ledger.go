// Package ledger holds the market's money: trader accounts, balance
// transitions and settlement bookkeeping.
//
// An Account tracks cash, YES shares, the pending-sell reservation and the
// set of open order ids. NO shares exist only in the LMSR inventory sense —
// the order book trades YES exclusively and treats NO exposure as the
// complement of YES plus cash.
//
// The only sanctioned mutators of trader balances outside the engines are
// ApplyExecution and ApplySettlement, which are idempotent with respect to
// already-applied results. Once a ledger is settled no account can be
// added, removed or mutated.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"predictsim/pkg/types"
)

var (
	// ErrUnknownTrader is returned when an id is not in the ledger.
	ErrUnknownTrader = errors.New("ledger: unknown trader")

	// ErrDuplicateTrader is returned when an id is registered twice.
	ErrDuplicateTrader = errors.New("ledger: trader already exists")

	// ErrSettled is returned for any mutation after settlement.
	ErrSettled = errors.New("ledger: market is settled")

	// ErrNegativeCash is returned when an account would go below zero.
	ErrNegativeCash = errors.New("ledger: cash balance would go negative")

	// ErrNegativeShares is returned when a share balance would go below zero.
	ErrNegativeShares = errors.New("ledger: share balance would go negative")

	// ErrInvalidInput is returned for malformed account parameters.
	ErrInvalidInput = errors.New("ledger: invalid input")
)

// Account is one trader's balances. Invariants maintained by the engines:
// cash >= 0, yesShares >= 0, 0 <= pendingSellQty <= yesShares.
type Account struct {
	ID             string
	Cash           decimal.Decimal
	YesShares      decimal.Decimal
	NoShares       decimal.Decimal
	PendingSellQty decimal.Decimal
	OpenOrders     map[string]struct{}
}

// NewAccount creates an account with the given starting cash.
func NewAccount(id string, cash decimal.Decimal) (*Account, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty trader id", ErrInvalidInput)
	}
	if cash.IsNegative() {
		return nil, fmt.Errorf("%w: negative starting cash %s", ErrInvalidInput, cash)
	}
	return &Account{
		ID:         id,
		Cash:       cash,
		OpenOrders: make(map[string]struct{}),
	}, nil
}

// SellableQty is the authoritative budget for sell-to-close checks:
// shares held minus shares already reserved by resting sell orders.
func (a *Account) SellableQty() decimal.Decimal {
	return a.YesShares.Sub(a.PendingSellQty)
}

// State returns a copy of the account as an externally visible TraderState
// with the open-order set sorted for deterministic serialization.
func (a *Account) State() types.TraderState {
	open := make([]string, 0, len(a.OpenOrders))
	for id := range a.OpenOrders {
		open = append(open, id)
	}
	sort.Strings(open)
	return types.TraderState{
		ID:             a.ID,
		Cash:           a.Cash,
		YesShares:      a.YesShares,
		NoShares:       a.NoShares,
		PendingSellQty: a.PendingSellQty,
		OpenOrders:     open,
	}
}

// clone deep-copies the account.
func (a *Account) clone() *Account {
	open := make(map[string]struct{}, len(a.OpenOrders))
	for id := range a.OpenOrders {
		open[id] = struct{}{}
	}
	return &Account{
		ID:             a.ID,
		Cash:           a.Cash,
		YesShares:      a.YesShares,
		NoShares:       a.NoShares,
		PendingSellQty: a.PendingSellQty,
		OpenOrders:     open,
	}
}

// Ledger owns the accounts of one market. Iteration order is the trader
// registration order, which keeps every derived artifact deterministic.
type Ledger struct {
	accounts map[string]*Account
	order    []string
	settled  bool
	outcome  types.Outcome
	applied  map[string]struct{}
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
		applied:  make(map[string]struct{}),
	}
}

// TraderInit seeds one account at ledger construction.
type TraderInit struct {
	ID        string
	Cash      decimal.Decimal
	YesShares decimal.Decimal
}

// NewWith creates a ledger pre-populated with the given traders.
func NewWith(traders []TraderInit) (*Ledger, error) {
	l := New()
	for _, t := range traders {
		acct, err := l.AddTrader(t.ID, t.Cash)
		if err != nil {
			return nil, err
		}
		if t.YesShares.IsNegative() {
			return nil, fmt.Errorf("%w: negative starting shares %s", ErrInvalidInput, t.YesShares)
		}
		acct.YesShares = t.YesShares
	}
	return l, nil
}

// AddTrader registers a new account. Traders cannot be added after
// settlement.
func (l *Ledger) AddTrader(id string, cash decimal.Decimal) (*Account, error) {
	if l.settled {
		return nil, ErrSettled
	}
	if _, ok := l.accounts[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTrader, id)
	}
	acct, err := NewAccount(id, cash)
	if err != nil {
		return nil, err
	}
	l.accounts[id] = acct
	l.order = append(l.order, id)
	return acct, nil
}

// Trader looks up an account by id.
func (l *Ledger) Trader(id string) (*Account, error) {
	acct, ok := l.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrader, id)
	}
	return acct, nil
}

// Has reports whether the trader id exists.
func (l *Ledger) Has(id string) bool {
	_, ok := l.accounts[id]
	return ok
}

// Accounts returns all accounts in registration order.
func (l *Ledger) Accounts() []*Account {
	out := make([]*Account, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.accounts[id])
	}
	return out
}

// States returns trader states in registration order.
func (l *Ledger) States() []types.TraderState {
	out := make([]types.TraderState, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.accounts[id].State())
	}
	return out
}

// TotalCash sums cash across all accounts. Under any sequence of CLOB
// limit, market and cancel operations this sum is invariant.
func (l *Ledger) TotalCash() decimal.Decimal {
	sum := decimal.Zero
	for _, id := range l.order {
		sum = sum.Add(l.accounts[id].Cash)
	}
	return sum
}

// Settled reports whether the market has reached terminal state.
func (l *Ledger) Settled() bool { return l.settled }

// Outcome returns the settlement outcome; only meaningful once settled.
func (l *Ledger) Outcome() types.Outcome { return l.outcome }

// MarkSettled transitions the ledger to terminal state.
func (l *Ledger) MarkSettled(outcome types.Outcome) error {
	if l.settled {
		return ErrSettled
	}
	l.settled = true
	l.outcome = outcome
	return nil
}

// Applied reports whether a result id has already been applied, and
// records it otherwise. This is what makes ApplyExecution and
// ApplySettlement idempotent.
func (l *Ledger) Applied(resultID string) bool {
	if resultID == "" {
		return false
	}
	if _, ok := l.applied[resultID]; ok {
		return true
	}
	l.applied[resultID] = struct{}{}
	return false
}

// ApplyExecution applies the balance deltas of a captured execution result
// to this ledger. Replaying a result that was already applied (same intent
// id) is a no-op. Used by the hybrid router to project sub-engine fills
// onto the shared position ledger.
func (l *Ledger) ApplyExecution(res *types.ExecutionResult) error {
	if l.settled {
		return ErrSettled
	}
	if res == nil || l.Applied(res.Intent.ID) {
		return nil
	}
	for id, delta := range res.BalanceDeltas {
		acct, err := l.Trader(id)
		if err != nil {
			return err
		}
		if err := acct.applyDelta(delta); err != nil {
			return fmt.Errorf("apply execution %s: %w", res.Intent.ID, err)
		}
	}
	return nil
}

func (a *Account) applyDelta(d types.BalanceDelta) error {
	cash := a.Cash.Add(d.Cash)
	if cash.IsNegative() {
		return ErrNegativeCash
	}
	yes := a.YesShares.Add(d.YesShares)
	if yes.IsNegative() {
		return ErrNegativeShares
	}
	no := a.NoShares.Add(d.NoShares)
	if no.IsNegative() {
		return ErrNegativeShares
	}
	a.Cash = cash
	a.YesShares = yes
	a.NoShares = no
	return nil
}

// SettlementResult captures a completed settlement for replay.
type SettlementResult struct {
	ID      string
	Outcome types.Outcome
	Payouts map[string]decimal.Decimal
}

// ApplySettlement credits per-trader payouts, zeroes share balances and
// marks the ledger settled. Idempotent by result id.
func (l *Ledger) ApplySettlement(res *SettlementResult) error {
	if res == nil {
		return nil
	}
	if l.Applied(res.ID) {
		return nil
	}
	if l.settled {
		return ErrSettled
	}
	for _, id := range l.order {
		acct := l.accounts[id]
		if payout, ok := res.Payouts[id]; ok {
			acct.Cash = acct.Cash.Add(payout)
		}
		acct.YesShares = decimal.Zero
		acct.NoShares = decimal.Zero
		acct.PendingSellQty = decimal.Zero
		acct.OpenOrders = make(map[string]struct{})
	}
	return l.MarkSettled(res.Outcome)
}

// Clone deep-copies the ledger. The router uses clones as sub-engine
// projections; property tests use them to replay sequences.
func (l *Ledger) Clone() *Ledger {
	c := New()
	c.settled = l.settled
	c.outcome = l.outcome
	for _, id := range l.order {
		c.accounts[id] = l.accounts[id].clone()
		c.order = append(c.order, id)
	}
	for id := range l.applied {
		c.applied[id] = struct{}{}
	}
	return c
}
