package lmsr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"predictsim/internal/ledger"
	"predictsim/internal/num"
	"predictsim/pkg/types"
)

// ErrInsufficientCash is returned when a buyer's cash is strictly less
// than the quoted payment.
var ErrInsufficientCash = errors.New("lmsr: insufficient cash")

// Market pairs LMSR state with the trader ledger. Execution debits the
// buyer's cash by the exact quoted payment and credits shares in the
// chosen outcome; a failing execution leaves both state and ledger
// untouched.
type Market struct {
	State  *State
	Ledger *ledger.Ledger
}

// NewMarket creates a market with liquidity b and the given traders, all
// starting with zero shares.
func NewMarket(b decimal.Decimal, traders []ledger.TraderInit) (*Market, error) {
	state, err := NewState(b)
	if err != nil {
		return nil, err
	}
	for _, t := range traders {
		if t.YesShares.Sign() != 0 {
			return nil, fmt.Errorf("%w: lmsr traders start with zero shares", ledger.ErrInvalidInput)
		}
	}
	l, err := ledger.NewWith(traders)
	if err != nil {
		return nil, err
	}
	return &Market{State: state, Ledger: l}, nil
}

// Execution reports a completed buy: the quote that priced it plus the
// trader it settled against.
type Execution struct {
	TraderID string
	Quote    Quote
}

// ExecuteBuy buys qty shares of outcome for the trader at the quoted
// payment.
func (m *Market) ExecuteBuy(traderID string, outcome types.Outcome, qty decimal.Decimal) (*Execution, error) {
	q, err := QuoteQtyBuy(m.State, outcome, qty)
	if err != nil {
		return nil, err
	}
	return m.commit(traderID, q)
}

// ExecuteBuySpend buys as many shares of outcome as spend affords, per
// QuoteSpendBuy.
func (m *Market) ExecuteBuySpend(traderID string, outcome types.Outcome, spend decimal.Decimal) (*Execution, error) {
	q, err := QuoteSpendBuy(m.State, outcome, spend)
	if err != nil {
		return nil, err
	}
	return m.commit(traderID, q)
}

// commit applies a validated quote: debit cash, credit shares, advance the
// market state. All checks run before the first mutation.
func (m *Market) commit(traderID string, q Quote) (*Execution, error) {
	acct, err := m.Ledger.Trader(traderID)
	if err != nil {
		return nil, err
	}
	if acct.Cash.LessThan(q.Payment) {
		return nil, fmt.Errorf("%w: trader %s has %s, needs %s",
			ErrInsufficientCash, traderID, acct.Cash, q.Payment)
	}

	acct.Cash = acct.Cash.Sub(q.Payment)
	if q.Outcome == types.YES {
		acct.YesShares = acct.YesShares.Add(q.Qty)
		m.State.QYes = m.State.QYes.Add(q.Qty)
	} else {
		acct.NoShares = acct.NoShares.Add(q.Qty)
		m.State.QNo = m.State.QNo.Add(q.Qty)
	}
	m.State.TotalCollected = num.Round(m.State.TotalCollected.Add(q.Payment))

	return &Execution{TraderID: traderID, Quote: q}, nil
}

// Settlement reports the terminal accounting of a market: per-trader
// payouts at $1 per winning share, and the market maker's realized P&L.
type Settlement struct {
	Outcome       types.Outcome
	Payouts       map[string]decimal.Decimal
	TotalPayout   decimal.Decimal
	ProfitLoss    decimal.Decimal
	WorstCaseLoss decimal.Decimal
}

// Settle pays winning share-holders at $1 per share, zeroes losing shares
// and transitions the market to terminal state. Invoking it twice fails
// with ErrAlreadySettled.
func (m *Market) Settle(outcome types.Outcome) (*Settlement, error) {
	if m.State.Settled {
		return nil, ErrAlreadySettled
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	payouts := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, acct := range m.Ledger.Accounts() {
		var winning decimal.Decimal
		if outcome == types.YES {
			winning = acct.YesShares
		} else {
			winning = acct.NoShares
		}
		if winning.Sign() > 0 {
			payouts[acct.ID] = winning
			total = total.Add(winning)
		}
	}

	res := &ledger.SettlementResult{
		ID:      "lmsr-settlement",
		Outcome: outcome,
		Payouts: payouts,
	}
	if err := m.Ledger.ApplySettlement(res); err != nil {
		return nil, err
	}
	m.State.Settled = true
	m.State.Outcome = outcome

	return &Settlement{
		Outcome:       outcome,
		Payouts:       payouts,
		TotalPayout:   total,
		ProfitLoss:    num.Round(m.State.TotalCollected.Sub(total)),
		WorstCaseLoss: WorstCaseLoss(m.State.B),
	}, nil
}
