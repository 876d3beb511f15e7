// Package engine exposes the uniform execution surface over the three
// engine variants: the pure order book, the pure LMSR market maker, and
// the hybrid router.
//
// Every variant accepts the same OrderIntent stream and answers with a
// complete ExecutionResult — status, fills, reference prices, slippage,
// price impact, per-trader balance deltas, a market snapshot and the log
// slice the intent produced. Validation failures never surface as errors;
// they come back as REJECTED results with a reason string, and a matching
// ORDER_REJECTED event in the stream.
package engine

import (
	"errors"

	"github.com/shopspring/decimal"

	"predictsim/internal/num"
	"predictsim/pkg/types"
)

var (
	// ErrNotSupported is returned by operations an engine variant cannot
	// perform, such as cancelling on the LMSR (nothing rests).
	ErrNotSupported = errors.New("engine: operation not supported")

	// ErrInvalidState is returned for lifecycle misuse: settling twice,
	// cancelling in a settled market.
	ErrInvalidState = errors.New("engine: invalid state")
)

// Engine is the common surface of every execution engine variant.
// Implementations serialize all calls internally; the driver submits one
// intent at a time and each intent's effects commit atomically before the
// next is observed.
type Engine interface {
	Type() types.EngineType

	// AddTrader registers a trader with starting cash and, for book-backed
	// engines, an optional starting YES position.
	AddTrader(id string, cash, yesShares decimal.Decimal) error

	ProcessOrder(intent types.OrderIntent) types.ExecutionResult

	// CancelOrder cancels a resting order. Engines without resting orders
	// return ErrNotSupported.
	CancelOrder(orderID string, ts float64) (types.OrderStatus, error)

	// Settle transitions the market to terminal state at the given outcome.
	Settle(outcome types.Outcome, ts float64) error

	GetMarketState() types.MarketStateSnapshot
	GetTraderState(id string) (types.TraderState, error)
	GetAllTraderStates() []types.TraderState

	GetMidPrice() (decimal.Decimal, bool)
	GetBestBid() (decimal.Decimal, bool)
	GetBestAsk() (decimal.Decimal, bool)
	GetSpread() (decimal.Decimal, bool)
	GetDepth(side types.Side, ticks int) decimal.Decimal

	GetLogs() []types.LogEvent
	ClearLogs()

	// Reset restores the engine to its post-initialization state: original
	// traders and balances, empty book, fresh AMM inventories, empty logs.
	Reset() error
}

// Intent validation reasons shared by all adapters.
const (
	reasonMissingTrader  = "missing trader id"
	reasonInvalidOutcome = "invalid outcome"
	reasonInvalidSide    = "invalid side"
	reasonInvalidType    = "invalid order type"
	reasonQtyAndSpend    = "exactly one of qty and spend must be set"
	reasonInvalidQty     = "invalid quantity"
	reasonInvalidSpend   = "invalid spend"
	reasonMissingPrice   = "limit order requires a price"
	reasonInvalidPrice   = "invalid price"
)

// validateIntent runs the engine-agnostic checks. It returns an empty
// string when the intent is well-formed.
func validateIntent(intent types.OrderIntent) string {
	if intent.TraderID == "" {
		return reasonMissingTrader
	}
	if !intent.Outcome.Valid() {
		return reasonInvalidOutcome
	}
	if !intent.Side.Valid() {
		return reasonInvalidSide
	}
	if !intent.Type.Valid() {
		return reasonInvalidType
	}
	if (intent.Qty == nil) == (intent.Spend == nil) {
		return reasonQtyAndSpend
	}
	if intent.Qty != nil && intent.Qty.Sign() <= 0 {
		return reasonInvalidQty
	}
	if intent.Spend != nil && intent.Spend.Sign() <= 0 {
		return reasonInvalidSpend
	}
	if intent.Type == types.LIMIT {
		if intent.Price == nil {
			return reasonMissingPrice
		}
		if intent.Price.Sign() <= 0 || intent.Price.GreaterThanOrEqual(num.One) {
			return reasonInvalidPrice
		}
	}
	return ""
}

// vwap computes the volume-weighted average fill price, or nil with no
// fills.
func vwap(fills []types.Fill) *decimal.Decimal {
	if len(fills) == 0 {
		return nil
	}
	notional := decimal.Zero
	qty := decimal.Zero
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(f.Qty))
		qty = qty.Add(f.Qty)
	}
	if qty.IsZero() {
		return nil
	}
	return num.Ptr(num.Div(notional, qty))
}

// slippage orients avg-vs-reference so that positive is worse for the
// taker: avg - ref for buys, ref - avg for sells.
func slippage(side types.Side, avg, ref *decimal.Decimal) *decimal.Decimal {
	if avg == nil || ref == nil {
		return nil
	}
	if side == types.BUY {
		return num.Ptr(avg.Sub(*ref))
	}
	return num.Ptr(ref.Sub(*avg))
}

// priceImpact signs the reference-price move so that positive means the
// trade pushed price in its own direction.
func priceImpact(side types.Side, before, after *decimal.Decimal) *decimal.Decimal {
	if before == nil || after == nil {
		return nil
	}
	if side == types.BUY {
		return num.Ptr(after.Sub(*before))
	}
	return num.Ptr(before.Sub(*after))
}

// rejectionResult assembles the uniform REJECTED answer.
func rejectionResult(engine types.EngineType, intent types.OrderIntent, reason string, snap types.MarketStateSnapshot, logs []types.LogEvent) types.ExecutionResult {
	remaining := decimal.Zero
	if intent.Qty != nil {
		remaining = *intent.Qty
	}
	return types.ExecutionResult{
		Engine:          engine,
		Intent:          intent,
		Status:          types.StatusRejected,
		RejectionReason: reason,
		Fills:           []types.Fill{},
		FilledQty:       decimal.Zero,
		RemainingQty:    remaining,
		BalanceDeltas:   map[string]types.BalanceDelta{},
		Snapshot:        snap,
		Logs:            logs,
		CompletedAt:     intent.Timestamp,
	}
}

// intentSummary is the common ORDER_RECEIVED payload.
func intentSummary(intent types.OrderIntent) map[string]any {
	data := map[string]any{
		"intentId":  intent.ID,
		"traderId":  intent.TraderID,
		"outcome":   string(intent.Outcome),
		"side":      string(intent.Side),
		"orderType": string(intent.Type),
	}
	if intent.Price != nil {
		data["price"] = *intent.Price
	}
	if intent.Qty != nil {
		data["qty"] = *intent.Qty
	}
	if intent.Spend != nil {
		data["spend"] = *intent.Spend
	}
	return data
}

// accumulateDelta folds one balance movement into the per-trader map.
func accumulateDelta(deltas map[string]types.BalanceDelta, trader string, cash, yes, no decimal.Decimal) {
	d := deltas[trader]
	d.Cash = d.Cash.Add(cash)
	d.YesShares = d.YesShares.Add(yes)
	d.NoShares = d.NoShares.Add(no)
	deltas[trader] = d
}

// clobFillDeltas accrues taker and maker balance deltas for book fills.
func clobFillDeltas(deltas map[string]types.BalanceDelta, taker string, side types.Side, fills []types.Fill) {
	for _, f := range fills {
		notional := f.Price.Mul(f.Qty)
		if side == types.BUY {
			accumulateDelta(deltas, taker, notional.Neg(), f.Qty, decimal.Zero)
			accumulateDelta(deltas, f.MakerTrader, notional, f.Qty.Neg(), decimal.Zero)
		} else {
			accumulateDelta(deltas, taker, notional, f.Qty.Neg(), decimal.Zero)
			accumulateDelta(deltas, f.MakerTrader, notional.Neg(), f.Qty, decimal.Zero)
		}
	}
}
