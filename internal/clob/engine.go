package clob

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"predictsim/internal/ledger"
	"predictsim/internal/num"
	"predictsim/pkg/types"
)

// ErrSettled is returned for mutations (including cancels) after the
// market has settled.
var ErrSettled = errors.New("clob: market is settled")

// Rejection reasons. Validation failures produce a terminal REJECTED
// result with one of these strings; the book is untouched.
const (
	ReasonInvalidQty         = "invalid quantity"
	ReasonInvalidPrice       = "invalid price"
	ReasonPriceNotAligned    = "price not aligned to tick size"
	ReasonUnknownTrader      = "unknown trader"
	ReasonMarketSettled      = "market is settled"
	ReasonInsufficientCash   = "insufficient cash"
	ReasonInsufficientShares = "insufficient sellable shares"
)

// Result is the engine-local outcome of one placement or cancel. The
// facade layer enriches it into a full ExecutionResult.
type Result struct {
	OrderID      string
	Status       types.OrderStatus
	Reason       string
	Fills        []types.Fill
	Trades       []types.Trade
	FilledQty    decimal.Decimal
	RemainingQty decimal.Decimal
}

// Engine is the matching engine for one YES-share market. It owns the two
// side books and mutates the trader ledger as fills execute. All
// operations are synchronous; the caller serializes intents.
type Engine struct {
	ledger *ledger.Ledger
	bids   *sideBook
	asks   *sideBook
	tick   decimal.Decimal

	orders    map[string]*Order
	orderSeq  int64
	tradeSeq  int64
	trades    []types.Trade
	lastTrade *decimal.Decimal
}

// New creates an engine over the given ledger with the given tick size.
func New(l *ledger.Ledger, tick decimal.Decimal) (*Engine, error) {
	if tick.Sign() <= 0 || tick.GreaterThan(num.D("0.01")) {
		return nil, fmt.Errorf("clob: tick size must be in (0, 0.01], got %s", tick)
	}
	return &Engine{
		ledger: l,
		bids:   newSideBook(types.BUY),
		asks:   newSideBook(types.SELL),
		tick:   tick,
		orders: make(map[string]*Order),
	}, nil
}

// Ledger exposes the trader ledger this engine settles against.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Trades returns the append-only trade log.
func (e *Engine) Trades() []types.Trade { return e.trades }

func rejected(reason string) *Result {
	return &Result{Status: types.StatusRejected, Reason: reason}
}

// PlaceLimit submits a limit order. Every validation failure, including
// placement into a settled market, returns a REJECTED result with the
// book untouched.
func (e *Engine) PlaceLimit(traderID string, side types.Side, price, qty decimal.Decimal, ts float64) *Result {
	if e.ledger.Settled() {
		return rejected(ReasonMarketSettled)
	}
	if qty.Sign() <= 0 {
		return rejected(ReasonInvalidQty)
	}
	if price.Sign() <= 0 || price.GreaterThanOrEqual(num.One) {
		return rejected(ReasonInvalidPrice)
	}
	if !price.Mod(e.tick).IsZero() {
		return rejected(ReasonPriceNotAligned)
	}
	acct, err := e.ledger.Trader(traderID)
	if err != nil {
		return rejected(ReasonUnknownTrader)
	}
	if side == types.BUY {
		// Full collateralization at the order's own limit. Fills execute at
		// maker prices, which for a marketable buy are never worse.
		if acct.Cash.LessThan(price.Mul(qty)) {
			return rejected(ReasonInsufficientCash)
		}
	} else {
		if acct.SellableQty().LessThan(qty) {
			return rejected(ReasonInsufficientShares)
		}
	}

	o := e.newOrder(traderID, side, price, qty, ts)
	res := e.match(o, price, ts)

	if o.Remaining.Sign() > 0 {
		// Rest the remainder. Only the resting portion of a sell reserves
		// shares; the crossed portion already left the share balance.
		e.bookFor(side).add(o)
		acct.OpenOrders[o.ID] = struct{}{}
		if side == types.SELL {
			acct.PendingSellQty = acct.PendingSellQty.Add(o.Remaining)
		}
		if res.FilledQty.Sign() > 0 {
			o.Status = types.StatusPartiallyFilled
		}
	} else {
		o.Status = types.StatusFilled
	}

	res.Status = o.Status
	return res
}

// PlaceMarket submits a market order: limit 1 for buys, 0 for sells. It
// walks available depth and never rests; unfilled quantity is discarded
// and reported as remaining.
func (e *Engine) PlaceMarket(traderID string, side types.Side, qty decimal.Decimal, ts float64) *Result {
	if e.ledger.Settled() {
		return rejected(ReasonMarketSettled)
	}
	if qty.Sign() <= 0 {
		return rejected(ReasonInvalidQty)
	}
	acct, err := e.ledger.Trader(traderID)
	if err != nil {
		return rejected(ReasonUnknownTrader)
	}
	limit := num.One
	if side == types.SELL {
		limit = decimal.Zero
		if acct.SellableQty().LessThan(qty) {
			return rejected(ReasonInsufficientShares)
		}
	} else if acct.Cash.LessThan(qty) {
		// Collateralized at the $1 price bound, the worst any fill can cost.
		return rejected(ReasonInsufficientCash)
	}

	o := e.newOrder(traderID, side, limit, qty, ts)
	res := e.match(o, limit, ts)

	if o.Remaining.IsZero() {
		o.Status = types.StatusFilled
	} else {
		o.Status = types.StatusPartiallyFilled
	}
	res.Status = o.Status
	return res
}

func (e *Engine) newOrder(traderID string, side types.Side, price, qty decimal.Decimal, ts float64) *Order {
	e.orderSeq++
	o := &Order{
		ID:        fmt.Sprintf("ord-%d", e.orderSeq),
		Seq:       e.orderSeq,
		TraderID:  traderID,
		Side:      side,
		Price:     price,
		Original:  qty,
		Remaining: qty,
		Status:    types.StatusOpen,
		Timestamp: ts,
	}
	e.orders[o.ID] = o
	return o
}

func (e *Engine) bookFor(side types.Side) *sideBook {
	if side == types.BUY {
		return e.bids
	}
	return e.asks
}

// crosses reports whether a resting price is marketable against the
// taker's limit.
func crosses(side types.Side, limit, restingPrice decimal.Decimal) bool {
	if side == types.BUY {
		return restingPrice.LessThanOrEqual(limit)
	}
	return restingPrice.GreaterThanOrEqual(limit)
}

// match consumes the opposite side in price-time order: strictly better
// prices first, then FIFO within each level. Every fill executes at the
// resting order's limit price.
func (e *Engine) match(taker *Order, limit decimal.Decimal, ts float64) *Result {
	res := &Result{
		OrderID:   taker.ID,
		FilledQty: decimal.Zero,
	}
	opposite := e.bookFor(oppositeSide(taker.Side))

	for taker.Remaining.Sign() > 0 {
		best := opposite.bestLevel()
		if best == nil || !crosses(taker.Side, limit, best.price) {
			break
		}
		maker := best.orders[0]
		qty := num.Min(taker.Remaining, maker.Remaining)
		price := maker.Price

		trade := e.execute(taker, maker, price, qty, ts)
		res.Trades = append(res.Trades, trade)
		res.Fills = append(res.Fills, types.Fill{
			TradeID:      trade.ID,
			Engine:       types.EngineCLOB,
			MakerOrderID: maker.ID,
			MakerTrader:  maker.TraderID,
			Price:        price,
			Qty:          qty,
			Timestamp:    ts,
		})
		res.FilledQty = res.FilledQty.Add(qty)
	}

	res.RemainingQty = taker.Remaining
	return res
}

// execute settles one fill at the maker's price, updating both accounts,
// the maker's resting state and the trade log.
func (e *Engine) execute(taker, maker *Order, price, qty decimal.Decimal, ts float64) types.Trade {
	notional := price.Mul(qty)

	buyer, seller := taker, maker
	if taker.Side == types.SELL {
		buyer, seller = maker, taker
	}
	buyAcct, _ := e.ledger.Trader(buyer.TraderID)
	sellAcct, _ := e.ledger.Trader(seller.TraderID)

	buyAcct.Cash = buyAcct.Cash.Sub(notional)
	buyAcct.YesShares = buyAcct.YesShares.Add(qty)
	sellAcct.Cash = sellAcct.Cash.Add(notional)
	sellAcct.YesShares = sellAcct.YesShares.Sub(qty)
	if seller == maker {
		sellAcct.PendingSellQty = sellAcct.PendingSellQty.Sub(qty)
	}

	taker.Remaining = taker.Remaining.Sub(qty)
	maker.Remaining = maker.Remaining.Sub(qty)
	if maker.Remaining.IsZero() {
		maker.Status = types.StatusFilled
		makerAcct, _ := e.ledger.Trader(maker.TraderID)
		delete(makerAcct.OpenOrders, maker.ID)
	} else {
		maker.Status = types.StatusPartiallyFilled
	}
	e.bookFor(maker.Side).reduce(maker, qty)

	e.tradeSeq++
	trade := types.Trade{
		ID:          fmt.Sprintf("trade-%d", e.tradeSeq),
		BidOrderID:  buyer.ID,
		AskOrderID:  seller.ID,
		BidTraderID: buyer.TraderID,
		AskTraderID: seller.TraderID,
		Price:       price,
		Qty:         qty,
		Timestamp:   ts,
	}
	e.trades = append(e.trades, trade)
	e.lastTrade = num.Ptr(price)
	return trade
}

func oppositeSide(s types.Side) types.Side {
	if s == types.BUY {
		return types.SELL
	}
	return types.BUY
}

// Cancel removes a resting order. Re-cancelling an unknown or already
// terminal id returns CANCELLED with no side effects; cancelling in a
// settled market is forbidden.
func (e *Engine) Cancel(orderID string) (types.OrderStatus, error) {
	if e.ledger.Settled() {
		return "", ErrSettled
	}
	o, ok := e.orders[orderID]
	if !ok || o.Status.Terminal() {
		return types.StatusCancelled, nil
	}
	e.cancelResting(o)
	return types.StatusCancelled, nil
}

func (e *Engine) cancelResting(o *Order) {
	// A partially-filled market order is also non-terminal but never
	// rested; only an order actually removed from the book releases its
	// pending-sell reservation.
	removed := e.bookFor(o.Side).remove(o)
	acct, err := e.ledger.Trader(o.TraderID)
	if err == nil {
		delete(acct.OpenOrders, o.ID)
		if removed && o.Side == types.SELL {
			acct.PendingSellQty = acct.PendingSellQty.Sub(o.Remaining)
		}
	}
	if removed {
		o.Status = types.StatusCancelled
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// BestBid returns the highest resting bid price.
func (e *Engine) BestBid() (decimal.Decimal, bool) { return e.bids.bestPrice() }

// BestAsk returns the lowest resting ask price.
func (e *Engine) BestAsk() (decimal.Decimal, bool) { return e.asks.bestPrice() }

// Spread returns bestAsk - bestBid when both sides exist.
func (e *Engine) Spread() (decimal.Decimal, bool) {
	bid, okB := e.BestBid()
	ask, okA := e.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return ask.Sub(bid), true
}

// MidPrice returns (bestBid + bestAsk) / 2 when both sides exist.
func (e *Engine) MidPrice() (decimal.Decimal, bool) {
	bid, okB := e.BestBid()
	ask, okA := e.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return num.Div(bid.Add(ask), num.Two), true
}

// Depth sums aggregate open quantity across the top `ticks` levels.
func (e *Engine) Depth(side types.Side, ticks int) decimal.Decimal {
	return e.bookFor(side).depth(ticks)
}

// OrdersAtPrice returns a copy of the FIFO queue at a price level.
func (e *Engine) OrdersAtPrice(side types.Side, price decimal.Decimal) []Order {
	return e.bookFor(side).ordersAt(price)
}

// LastTradePrice returns the most recent execution price, if any.
func (e *Engine) LastTradePrice() *decimal.Decimal {
	if e.lastTrade == nil {
		return nil
	}
	return num.Ptr(*e.lastTrade)
}

// Snapshot renders the book's top levels plus derived values.
func (e *Engine) Snapshot(maxLevels int) *types.BookSnapshot {
	snap := &types.BookSnapshot{
		Bids:           e.bids.snapshot(maxLevels),
		Asks:           e.asks.snapshot(maxLevels),
		LastTradePrice: e.LastTradePrice(),
	}
	if bid, ok := e.BestBid(); ok {
		snap.BestBid = num.Ptr(bid)
	}
	if ask, ok := e.BestAsk(); ok {
		snap.BestAsk = num.Ptr(ask)
	}
	if spread, ok := e.Spread(); ok {
		snap.Spread = num.Ptr(spread)
	}
	if mid, ok := e.MidPrice(); ok {
		snap.MidPrice = num.Ptr(mid)
	}
	return snap
}

// FillableQty measures how much of a taker order would cross immediately
// at or inside the given limit — the router's split probe. It does not
// mutate the book.
func (e *Engine) FillableQty(side types.Side, limit, qty decimal.Decimal) decimal.Decimal {
	opposite := e.bookFor(oppositeSide(side))
	avail := decimal.Zero
	opposite.eachLevel(func(lv *level) bool {
		if !crosses(side, limit, lv.price) {
			return false
		}
		avail = avail.Add(lv.totalQty)
		return !avail.GreaterThanOrEqual(qty)
	})
	return num.Min(avail, qty)
}

// ————————————————————————————————————————————————————————————————————————
// Settlement and invariants
// ————————————————————————————————————————————————————————————————————————

// Settle cancels every resting order, pays YES holders $1 per share when
// the outcome is YES, zeroes share balances and freezes the ledger.
func (e *Engine) Settle(outcome types.Outcome) (map[string]decimal.Decimal, error) {
	if e.ledger.Settled() {
		return nil, ErrSettled
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("clob: invalid outcome %q", outcome)
	}

	resting := make([]*Order, 0, len(e.orders))
	for _, o := range e.orders {
		if !o.Status.Terminal() {
			resting = append(resting, o)
		}
	}
	sort.Slice(resting, func(i, j int) bool { return resting[i].Seq < resting[j].Seq })
	for _, o := range resting {
		e.cancelResting(o)
	}

	payouts := make(map[string]decimal.Decimal)
	if outcome == types.YES {
		for _, acct := range e.ledger.Accounts() {
			if acct.YesShares.Sign() > 0 {
				payouts[acct.ID] = acct.YesShares
			}
		}
	}
	if err := e.ledger.ApplySettlement(&ledger.SettlementResult{
		ID:      "clob-settlement",
		Outcome: outcome,
		Payouts: payouts,
	}); err != nil {
		return nil, err
	}
	return payouts, nil
}

// CheckInvariants verifies the global book invariants. A violation is an
// engine bug, not a user error.
func (e *Engine) CheckInvariants() error {
	if bid, okB := e.BestBid(); okB {
		if ask, okA := e.BestAsk(); okA && !bid.LessThan(ask) {
			return fmt.Errorf("clob: crossed book, bid %s >= ask %s", bid, ask)
		}
	}
	if err := e.bids.checkLevels(); err != nil {
		return err
	}
	if err := e.asks.checkLevels(); err != nil {
		return err
	}

	// Count each resting order once across the whole book.
	onBook := make(map[string]int)
	countSide := func(sb *sideBook) {
		sb.eachLevel(func(lv *level) bool {
			for _, o := range lv.orders {
				onBook[o.ID]++
			}
			return true
		})
	}
	countSide(e.bids)
	countSide(e.asks)

	for _, acct := range e.ledger.Accounts() {
		if acct.Cash.IsNegative() {
			return fmt.Errorf("clob: trader %s has negative cash %s", acct.ID, acct.Cash)
		}
		if acct.YesShares.IsNegative() {
			return fmt.Errorf("clob: trader %s has negative shares %s", acct.ID, acct.YesShares)
		}
		if acct.PendingSellQty.IsNegative() || acct.PendingSellQty.GreaterThan(acct.YesShares) {
			return fmt.Errorf("clob: trader %s pending sell %s exceeds shares %s",
				acct.ID, acct.PendingSellQty, acct.YesShares)
		}
		for id := range acct.OpenOrders {
			if onBook[id] != 1 {
				return fmt.Errorf("clob: open order %s of trader %s appears %d times on book",
					id, acct.ID, onBook[id])
			}
		}
	}
	return nil
}
