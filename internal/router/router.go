// Package router implements the hybrid execution path: it owns the shared
// position ledger and splits incoming intents between the order book and
// the LMSR market maker according to a configured routing policy.
//
// The shared ledger is authoritative. The CLOB and LMSR sub-ledgers are
// projections: immediately before an intent is dispatched the trader's
// balances are copied down into both sub-ledgers, and after every fill the
// shared position is updated from the sub-ledger that filled. An AMM fill
// also refreshes the book projection; the AMM projection of a book maker is
// refreshed by that maker's next copy-down, so no fill ever sees stale
// shares. A split buy dispatches the book's crossable quantity to the book
// and the rest to the AMM; if the AMM leg is refused (for example for lack
// of cash) the book fills stand and the result is PARTIALLY_FILLED.
package router

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"predictsim/internal/clob"
	"predictsim/internal/eventlog"
	"predictsim/internal/ledger"
	"predictsim/internal/lmsr"
	"predictsim/internal/num"
	"predictsim/pkg/types"
)

// Mode selects the routing policy.
type Mode string

const (
	// CLOBFirst fills what the book can cross, then falls back to the AMM.
	CLOBFirst Mode = "CLOB_FIRST"
	// LMSRFirst sends buys straight to the AMM; sells still go to the book.
	LMSRFirst Mode = "LMSR_FIRST"
	// SpreadBased prefers the book only while it is tight and deep enough.
	SpreadBased Mode = "SPREAD_BASED"
)

// ParseMode validates a routing mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case CLOBFirst, LMSRFirst, SpreadBased:
		return Mode(s), nil
	}
	return "", fmt.Errorf("router: unknown routing mode %q", s)
}

// ErrAlreadySettled is returned when settle is invoked twice.
var ErrAlreadySettled = errors.New("router: market already settled")

// Config is the hybrid router configuration.
type Config struct {
	Mode       Mode
	MaxSpread  decimal.Decimal
	MinDepth   decimal.Decimal
	DepthTicks int
	B          decimal.Decimal
	TickSize   decimal.Decimal
}

// Validate checks the configured ranges.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.MaxSpread.IsNegative() {
		return fmt.Errorf("router: maxSpread must be non-negative, got %s", c.MaxSpread)
	}
	if c.MinDepth.IsNegative() {
		return fmt.Errorf("router: minDepth must be non-negative, got %s", c.MinDepth)
	}
	if c.DepthTicks < 1 {
		return fmt.Errorf("router: depthTicks must be >= 1, got %d", c.DepthTicks)
	}
	if c.B.Sign() <= 0 {
		return fmt.Errorf("router: lmsr b must be positive, got %s", c.B)
	}
	return nil
}

// Decision records one routing choice for the event stream.
type Decision struct {
	IntentID  string
	Engine    types.EngineType
	Spread    *decimal.Decimal
	Depth     decimal.Decimal
	MaxSpread decimal.Decimal
	MinDepth  decimal.Decimal
	Reason    string
}

// Dispatch is the combined outcome of routing one intent.
type Dispatch struct {
	Engine       types.EngineType
	OrderID      string
	Status       types.OrderStatus
	Reason       string
	Fills        []types.Fill
	FilledQty    decimal.Decimal
	RemainingQty decimal.Decimal
	Decision     Decision
}

// Router owns the shared position ledger and the two sub-engines.
type Router struct {
	cfg    Config
	sink   *eventlog.Sink
	shared *ledger.Ledger

	clobLedger *ledger.Ledger
	book       *clob.Engine
	amm        *lmsr.Market

	fillSeq int64
}

// New creates a hybrid router. The sink is shared with the owning adapter
// so routing decisions interleave with order lifecycle events in emission
// order.
func New(cfg Config, sink *eventlog.Sink) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clobLedger := ledger.New()
	book, err := clob.New(clobLedger, cfg.TickSize)
	if err != nil {
		return nil, err
	}
	amm, err := lmsr.NewMarket(cfg.B, nil)
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:        cfg,
		sink:       sink,
		shared:     ledger.New(),
		clobLedger: clobLedger,
		book:       book,
		amm:        amm,
	}, nil
}

// Shared returns the authoritative position ledger.
func (r *Router) Shared() *ledger.Ledger { return r.shared }

// Book returns the CLOB sub-engine (its ledger is a projection).
func (r *Router) Book() *clob.Engine { return r.book }

// AMM returns the LMSR sub-engine (its ledger is a projection).
func (r *Router) AMM() *lmsr.Market { return r.amm }

// Config returns the router configuration.
func (r *Router) Config() Config { return r.cfg }

// AddTrader registers a trader on the shared ledger and both projections.
func (r *Router) AddTrader(id string, cash, yesShares decimal.Decimal) error {
	if yesShares.IsNegative() {
		return fmt.Errorf("%w: negative starting shares", ledger.ErrInvalidInput)
	}
	acct, err := r.shared.AddTrader(id, cash)
	if err != nil {
		return err
	}
	acct.YesShares = yesShares

	cl, err := r.clobLedger.AddTrader(id, cash)
	if err != nil {
		return err
	}
	cl.YesShares = yesShares

	am, err := r.amm.Ledger.AddTrader(id, cash)
	if err != nil {
		return err
	}
	am.YesShares = yesShares
	return nil
}

// syncDown copies the shared trader's balances into both sub-ledgers. The
// book keeps its own pending-sell reservation and open-order set — those
// belong to the book's resting state and the shared ledger mirrors them
// back after each dispatch.
func (r *Router) syncDown(traderID string) {
	sh, err := r.shared.Trader(traderID)
	if err != nil {
		return
	}
	if cl, err := r.clobLedger.Trader(traderID); err == nil {
		cl.Cash = sh.Cash
		cl.YesShares = sh.YesShares
	}
	if am, err := r.amm.Ledger.Trader(traderID); err == nil {
		am.Cash = sh.Cash
		am.YesShares = sh.YesShares
		am.NoShares = sh.NoShares
	}
}

// liftFromBook mirrors a trader's post-fill book state up to the shared
// ledger.
func (r *Router) liftFromBook(traderID string) {
	cl, err := r.clobLedger.Trader(traderID)
	if err != nil {
		return
	}
	sh, err := r.shared.Trader(traderID)
	if err != nil {
		return
	}
	sh.Cash = cl.Cash
	sh.YesShares = cl.YesShares
	sh.PendingSellQty = cl.PendingSellQty
	sh.OpenOrders = make(map[string]struct{}, len(cl.OpenOrders))
	for id := range cl.OpenOrders {
		sh.OpenOrders[id] = struct{}{}
	}
}

// liftFromAMM mirrors a trader's post-fill AMM state up to the shared
// ledger and refreshes the book projection's balances.
func (r *Router) liftFromAMM(traderID string) {
	am, err := r.amm.Ledger.Trader(traderID)
	if err != nil {
		return
	}
	sh, err := r.shared.Trader(traderID)
	if err != nil {
		return
	}
	sh.Cash = am.Cash
	sh.YesShares = am.YesShares
	sh.NoShares = am.NoShares
	if cl, err := r.clobLedger.Trader(traderID); err == nil {
		cl.Cash = sh.Cash
		cl.YesShares = sh.YesShares
	}
}

// LiftAll mirrors every trader's book projection up to the shared ledger.
// Used after out-of-band book mutations such as cancellation.
func (r *Router) LiftAll() {
	for _, acct := range r.clobLedger.Accounts() {
		r.liftFromBook(acct.ID)
	}
}

// Process routes one validated intent. The routing decision event is
// emitted before any sub-engine runs, so it precedes the fills it caused
// in the stream.
func (r *Router) Process(intent types.OrderIntent) *Dispatch {
	r.syncDown(intent.TraderID)

	decision := r.decide(intent)
	r.emitDecision(intent, decision)

	switch decision.Engine {
	case types.EngineCLOB:
		return r.dispatchBook(intent, decision)
	case types.EngineLMSR:
		return r.dispatchAMM(intent, decision)
	default:
		return r.dispatchSplit(intent, decision)
	}
}

// decide picks the destination engine(s) for an intent.
func (r *Router) decide(intent types.OrderIntent) Decision {
	d := Decision{
		IntentID:  intent.ID,
		MaxSpread: r.cfg.MaxSpread,
		MinDepth:  r.cfg.MinDepth,
	}
	if spread, ok := r.book.Spread(); ok {
		d.Spread = num.Ptr(spread)
	}

	// Sells have one destination in every mode: the AMM has no short-sell,
	// so the book is the only path out of a YES position.
	if intent.Side == types.SELL {
		d.Engine = types.EngineCLOB
		d.Depth = r.book.Depth(types.BUY, r.cfg.DepthTicks)
		d.Reason = "sell orders route to the order book"
		return d
	}
	d.Depth = r.book.Depth(types.SELL, r.cfg.DepthTicks)

	// Spend-denominated buys invert the AMM cost function; the book has no
	// spend path.
	if intent.Spend != nil {
		d.Engine = types.EngineLMSR
		d.Reason = "spend orders quote against the AMM"
		return d
	}

	// NO buys are the AMM's synthetic short; the book trades YES only.
	if intent.Outcome == types.NO {
		d.Engine = types.EngineLMSR
		d.Reason = "NO outcome trades against the AMM"
		return d
	}

	switch r.cfg.Mode {
	case LMSRFirst:
		d.Engine = types.EngineLMSR
		d.Reason = "LMSR_FIRST routes buys to the AMM"
	case SpreadBased:
		if d.Spread != nil && d.Spread.LessThanOrEqual(r.cfg.MaxSpread) && d.Depth.GreaterThanOrEqual(r.cfg.MinDepth) {
			d.Engine = types.EngineCLOB
			d.Reason = fmt.Sprintf("spread %s <= %s and depth %s >= %s",
				d.Spread, r.cfg.MaxSpread, d.Depth, r.cfg.MinDepth)
		} else {
			d.Engine = types.EngineLMSR
			d.Reason = "book too wide or too shallow"
		}
	default: // CLOBFirst
		limit := num.One
		if intent.Price != nil {
			limit = *intent.Price
		}
		fillable := r.book.FillableQty(types.BUY, limit, *intent.Qty)
		switch {
		case fillable.IsZero():
			d.Engine = types.EngineLMSR
			d.Reason = "no crossable depth on the book"
		case fillable.GreaterThanOrEqual(*intent.Qty):
			d.Engine = types.EngineCLOB
			d.Reason = "book can fill the full quantity"
		default:
			d.Engine = types.EngineBoth
			d.Reason = fmt.Sprintf("book fills %s, AMM completes %s",
				fillable, intent.Qty.Sub(fillable))
		}
	}
	return d
}

func (r *Router) emitDecision(intent types.OrderIntent, d Decision) {
	data := map[string]any{
		"intentId":  d.IntentID,
		"engine":    string(d.Engine),
		"depth":     d.Depth,
		"maxSpread": d.MaxSpread,
		"minDepth":  d.MinDepth,
		"reason":    d.Reason,
	}
	if d.Spread != nil {
		data["spread"] = *d.Spread
	}
	r.sink.Emit(types.EventRoutingDecision, intent.Timestamp, data)
}

// dispatchBook sends the whole intent to the order book.
func (r *Router) dispatchBook(intent types.OrderIntent, d Decision) *Dispatch {
	var res *clob.Result
	if intent.Type == types.MARKET {
		res = r.book.PlaceMarket(intent.TraderID, intent.Side, *intent.Qty, intent.Timestamp)
	} else {
		res = r.book.PlaceLimit(intent.TraderID, intent.Side, *intent.Price, *intent.Qty, intent.Timestamp)
	}
	if res.Status != types.StatusRejected {
		r.liftFromBook(intent.TraderID)
		for _, f := range res.Fills {
			r.liftFromBook(f.MakerTrader)
		}
	}
	return &Dispatch{
		Engine:       types.EngineCLOB,
		OrderID:      res.OrderID,
		Status:       res.Status,
		Reason:       res.Reason,
		Fills:        res.Fills,
		FilledQty:    res.FilledQty,
		RemainingQty: res.RemainingQty,
		Decision:     d,
	}
}

// dispatchAMM sends the whole intent to the market maker.
func (r *Router) dispatchAMM(intent types.OrderIntent, d Decision) *Dispatch {
	var (
		exec *lmsr.Execution
		err  error
	)
	if intent.Qty != nil {
		exec, err = r.amm.ExecuteBuy(intent.TraderID, intent.Outcome, *intent.Qty)
	} else {
		exec, err = r.amm.ExecuteBuySpend(intent.TraderID, intent.Outcome, *intent.Spend)
	}
	if err != nil {
		remaining := decimal.Zero
		if intent.Qty != nil {
			remaining = *intent.Qty
		}
		return &Dispatch{
			Engine:       types.EngineLMSR,
			Status:       types.StatusRejected,
			Reason:       err.Error(),
			FilledQty:    decimal.Zero,
			RemainingQty: remaining,
			Decision:     d,
		}
	}
	r.liftFromAMM(intent.TraderID)

	fill := r.ammFill(exec.Quote, intent.Timestamp)
	return &Dispatch{
		Engine:       types.EngineLMSR,
		OrderID:      fill.TradeID,
		Status:       types.StatusFilled,
		Fills:        []types.Fill{fill},
		FilledQty:    exec.Quote.Qty,
		RemainingQty: decimal.Zero,
		Decision:     d,
	}
}

func (r *Router) ammFill(q lmsr.Quote, ts float64) types.Fill {
	r.fillSeq++
	return types.Fill{
		TradeID:   fmt.Sprintf("amm-%d", r.fillSeq),
		Engine:    types.EngineLMSR,
		Price:     q.AvgPrice,
		Qty:       q.Qty,
		Timestamp: ts,
	}
}

// dispatchSplit fills the crossable portion on the book and completes the
// remainder against the AMM. The filled total equals the intent quantity
// unless the AMM leg fails, in which case the book fills are reported as
// PARTIALLY_FILLED with the AMM remainder unfilled.
func (r *Router) dispatchSplit(intent types.OrderIntent, d Decision) *Dispatch {
	limit := num.One
	if intent.Price != nil {
		limit = *intent.Price
	}
	k := r.book.FillableQty(types.BUY, limit, *intent.Qty)

	var bookRes *clob.Result
	if intent.Type == types.MARKET {
		bookRes = r.book.PlaceMarket(intent.TraderID, types.BUY, k, intent.Timestamp)
	} else {
		bookRes = r.book.PlaceLimit(intent.TraderID, types.BUY, limit, k, intent.Timestamp)
	}
	if bookRes.Status == types.StatusRejected {
		return &Dispatch{
			Engine:       types.EngineCLOB,
			Status:       types.StatusRejected,
			Reason:       bookRes.Reason,
			FilledQty:    decimal.Zero,
			RemainingQty: *intent.Qty,
			Decision:     d,
		}
	}
	r.liftFromBook(intent.TraderID)
	for _, f := range bookRes.Fills {
		r.liftFromBook(f.MakerTrader)
	}
	r.syncDown(intent.TraderID)

	remainder := intent.Qty.Sub(k)
	exec, err := r.amm.ExecuteBuy(intent.TraderID, intent.Outcome, remainder)
	if err != nil {
		// The AMM leg failed (insufficient cash for the fallback). The book
		// fills stand; report the partial honestly.
		return &Dispatch{
			Engine:       types.EngineBoth,
			OrderID:      bookRes.OrderID,
			Status:       types.StatusPartiallyFilled,
			Reason:       fmt.Sprintf("amm leg failed: %v", err),
			Fills:        bookRes.Fills,
			FilledQty:    bookRes.FilledQty,
			RemainingQty: remainder,
			Decision:     d,
		}
	}
	r.liftFromAMM(intent.TraderID)

	fills := append([]types.Fill{}, bookRes.Fills...)
	fills = append(fills, r.ammFill(exec.Quote, intent.Timestamp))

	return &Dispatch{
		Engine:       types.EngineBoth,
		OrderID:      bookRes.OrderID,
		Status:       types.StatusFilled,
		Fills:        fills,
		FilledQty:    bookRes.FilledQty.Add(exec.Quote.Qty),
		RemainingQty: decimal.Zero,
		Decision:     d,
	}
}

// Settle cancels all resting book orders, pays winning shares at $1 from
// the shared ledger, freezes the shared and book ledgers, and marks the AMM
// state settled (the AMM sub-ledger itself is not settled). The market maker's
// P&L is totalCollected minus the winning AMM inventory (each issued
// winning share redeems for $1).
func (r *Router) Settle(outcome types.Outcome) (*lmsr.Settlement, error) {
	if r.shared.Settled() {
		return nil, ErrAlreadySettled
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("router: invalid outcome %q", outcome)
	}

	// Settling the book projection cancels every resting order and freezes
	// the sub-ledger; its payouts are discarded — the shared ledger below
	// is authoritative.
	if _, err := r.book.Settle(outcome); err != nil {
		return nil, err
	}

	payouts := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, acct := range r.shared.Accounts() {
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
	if err := r.shared.ApplySettlement(&ledger.SettlementResult{
		ID:      "hybrid-settlement",
		Outcome: outcome,
		Payouts: payouts,
	}); err != nil {
		return nil, err
	}

	r.amm.State.Settled = true
	r.amm.State.Outcome = outcome

	ammIssued := r.amm.State.QYes
	if outcome == types.NO {
		ammIssued = r.amm.State.QNo
	}
	return &lmsr.Settlement{
		Outcome:       outcome,
		Payouts:       payouts,
		TotalPayout:   total,
		ProfitLoss:    num.Round(r.amm.State.TotalCollected.Sub(ammIssued)),
		WorstCaseLoss: lmsr.WorstCaseLoss(r.cfg.B),
	}, nil
}
