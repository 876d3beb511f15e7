package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"predictsim/internal/clob"
	"predictsim/internal/eventlog"
	"predictsim/internal/ledger"
	"predictsim/pkg/types"
)

// snapshotLevels bounds how many book levels a snapshot renders.
const snapshotLevels = 10

// Engine-specific rejection reasons for intents the pure CLOB cannot
// express.
const (
	reasonNoOutcomeOnBook  = "order book trades YES only"
	reasonSpendOnBook      = "spend orders not supported on the order book"
	reasonMarketSettledStr = "market is settled"
)

// CLOBAdapter exposes the matching engine through the uniform surface.
// The book trades YES exclusively; NO exposure is the complement of
// YES plus cash, so NO intents are rejected here (the hybrid engine sends
// NO buys to the AMM instead and rejects NO sells).
type CLOBAdapter struct {
	mu     sync.Mutex
	logger *slog.Logger
	tick   decimal.Decimal

	ledger *ledger.Ledger
	eng    *clob.Engine
	sink   *eventlog.Sink
	inits  []ledger.TraderInit
	lastTS float64
}

// NewCLOB creates a CLOB-backed engine with the given tick size.
func NewCLOB(tick decimal.Decimal, logger *slog.Logger) (*CLOBAdapter, error) {
	l := ledger.New()
	eng, err := clob.New(l, tick)
	if err != nil {
		return nil, err
	}
	return &CLOBAdapter{
		logger: logger.With("component", "clob-engine"),
		tick:   tick,
		ledger: l,
		eng:    eng,
		sink:   eventlog.New(types.EngineCLOB),
	}, nil
}

// Type implements Engine.
func (a *CLOBAdapter) Type() types.EngineType { return types.EngineCLOB }

// AddTrader implements Engine.
func (a *CLOBAdapter) AddTrader(id string, cash, yesShares decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, err := a.ledger.AddTrader(id, cash)
	if err != nil {
		return err
	}
	if yesShares.IsNegative() {
		return fmt.Errorf("%w: negative starting shares", ledger.ErrInvalidInput)
	}
	acct.YesShares = yesShares
	a.inits = append(a.inits, ledger.TraderInit{ID: id, Cash: cash, YesShares: yesShares})
	return nil
}

// ProcessOrder implements Engine.
func (a *CLOBAdapter) ProcessOrder(intent types.OrderIntent) types.ExecutionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastTS = intent.Timestamp
	mark := a.sink.Len()
	a.sink.Emit(types.EventOrderReceived, intent.Timestamp, intentSummary(intent))

	if reason := a.validate(intent); reason != "" {
		return a.reject(intent, reason, mark)
	}

	midBefore := a.midPtr()

	var res *clob.Result
	if intent.Type == types.MARKET {
		res = a.eng.PlaceMarket(intent.TraderID, intent.Side, *intent.Qty, intent.Timestamp)
	} else {
		res = a.eng.PlaceLimit(intent.TraderID, intent.Side, *intent.Price, *intent.Qty, intent.Timestamp)
	}
	if res.Status == types.StatusRejected {
		return a.reject(intent, res.Reason, mark)
	}

	if res.Fills == nil {
		res.Fills = []types.Fill{}
	}
	a.sink.Emit(types.EventOrderAccepted, intent.Timestamp, map[string]any{
		"intentId": intent.ID,
		"orderId":  res.OrderID,
	})
	for _, f := range res.Fills {
		a.sink.Emit(types.EventTradeExecuted, intent.Timestamp, map[string]any{
			"intentId":     intent.ID,
			"tradeId":      f.TradeID,
			"makerOrderId": f.MakerOrderID,
			"price":        f.Price,
			"qty":          f.Qty,
		})
	}
	a.emitFinalStatus(intent, res.OrderID, res.Status, res.FilledQty, res.RemainingQty)

	midAfter := a.midPtr()
	a.sink.Emit(types.EventMarketStateUpdate, intent.Timestamp, a.statePayload())

	deltas := map[string]types.BalanceDelta{}
	clobFillDeltas(deltas, intent.TraderID, intent.Side, res.Fills)
	avg := vwap(res.Fills)

	a.logger.Debug("order processed",
		"intent", intent.ID, "status", string(res.Status), "fills", len(res.Fills))

	return types.ExecutionResult{
		Engine:        types.EngineCLOB,
		Intent:        intent,
		OrderID:       res.OrderID,
		Status:        res.Status,
		Fills:         res.Fills,
		FilledQty:     res.FilledQty,
		RemainingQty:  res.RemainingQty,
		AvgFillPrice:  avg,
		PriceBefore:   midBefore,
		PriceAfter:    midAfter,
		Slippage:      slippage(intent.Side, avg, midBefore),
		PriceImpact:   priceImpact(intent.Side, midBefore, midAfter),
		BalanceDeltas: deltas,
		Snapshot:      a.snapshot(),
		Logs:          a.sink.Since(mark),
		CompletedAt:   intent.Timestamp,
	}
}

func (a *CLOBAdapter) validate(intent types.OrderIntent) string {
	if reason := validateIntent(intent); reason != "" {
		return reason
	}
	if intent.Outcome != types.YES {
		return reasonNoOutcomeOnBook
	}
	if intent.Spend != nil {
		return reasonSpendOnBook
	}
	return ""
}

func (a *CLOBAdapter) reject(intent types.OrderIntent, reason string, mark int) types.ExecutionResult {
	a.sink.Emit(types.EventOrderRejected, intent.Timestamp, map[string]any{
		"intentId": intent.ID,
		"reason":   reason,
	})
	a.logger.Debug("order rejected", "intent", intent.ID, "reason", reason)
	return rejectionResult(types.EngineCLOB, intent, reason, a.snapshot(), a.sink.Since(mark))
}

func (a *CLOBAdapter) emitFinalStatus(intent types.OrderIntent, orderID string, status types.OrderStatus, filled, remaining decimal.Decimal) {
	data := map[string]any{
		"intentId":  intent.ID,
		"orderId":   orderID,
		"filled":    filled,
		"remaining": remaining,
	}
	switch status {
	case types.StatusFilled:
		a.sink.Emit(types.EventOrderFilled, intent.Timestamp, data)
	case types.StatusPartiallyFilled:
		a.sink.Emit(types.EventOrderPartiallyFilled, intent.Timestamp, data)
	}
}

func (a *CLOBAdapter) midPtr() *decimal.Decimal {
	if mid, ok := a.eng.MidPrice(); ok {
		c := mid
		return &c
	}
	return nil
}

func (a *CLOBAdapter) statePayload() map[string]any {
	data := map[string]any{}
	if bid, ok := a.eng.BestBid(); ok {
		data["bestBid"] = bid
	}
	if ask, ok := a.eng.BestAsk(); ok {
		data["bestAsk"] = ask
	}
	if mid, ok := a.eng.MidPrice(); ok {
		data["midPrice"] = mid
	}
	return data
}

func (a *CLOBAdapter) snapshot() types.MarketStateSnapshot {
	return types.MarketStateSnapshot{
		Engine:    types.EngineCLOB,
		Timestamp: a.lastTS,
		Book:      a.eng.Snapshot(snapshotLevels),
	}
}

// CancelOrder implements Engine.
func (a *CLOBAdapter) CancelOrder(orderID string, ts float64) (types.OrderStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status, err := a.eng.Cancel(orderID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidState, reasonMarketSettledStr)
	}
	a.sink.Emit(types.EventOrderCancelled, ts, map[string]any{"orderId": orderID})
	return status, nil
}

// Settle implements Engine.
func (a *CLOBAdapter) Settle(outcome types.Outcome, ts float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	payouts, err := a.eng.Settle(outcome)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	total := decimal.Zero
	for _, p := range payouts {
		total = total.Add(p)
	}
	a.sink.Emit(types.EventSettlement, ts, map[string]any{
		"outcome":     string(outcome),
		"totalPayout": total,
	})
	return nil
}

// GetMarketState implements Engine.
func (a *CLOBAdapter) GetMarketState() types.MarketStateSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// GetTraderState implements Engine.
func (a *CLOBAdapter) GetTraderState(id string) (types.TraderState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, err := a.ledger.Trader(id)
	if err != nil {
		return types.TraderState{}, err
	}
	return acct.State(), nil
}

// GetAllTraderStates implements Engine.
func (a *CLOBAdapter) GetAllTraderStates() []types.TraderState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.States()
}

// GetMidPrice implements Engine.
func (a *CLOBAdapter) GetMidPrice() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.MidPrice()
}

// GetBestBid implements Engine.
func (a *CLOBAdapter) GetBestBid() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.BestBid()
}

// GetBestAsk implements Engine.
func (a *CLOBAdapter) GetBestAsk() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.BestAsk()
}

// GetSpread implements Engine.
func (a *CLOBAdapter) GetSpread() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.Spread()
}

// GetDepth implements Engine.
func (a *CLOBAdapter) GetDepth(side types.Side, ticks int) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.Depth(side, ticks)
}

// GetLogs implements Engine.
func (a *CLOBAdapter) GetLogs() []types.LogEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink.Events()
}

// ClearLogs implements Engine.
func (a *CLOBAdapter) ClearLogs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink.Clear()
}

// Reset implements Engine.
func (a *CLOBAdapter) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := ledger.NewWith(a.inits)
	if err != nil {
		return err
	}
	eng, err := clob.New(l, a.tick)
	if err != nil {
		return err
	}
	a.ledger = l
	a.eng = eng
	a.sink.Clear()
	a.lastTS = 0
	return nil
}

// Book exposes the underlying matching engine for invariant checks in
// tests and for the hybrid router's split probe.
func (a *CLOBAdapter) Book() *clob.Engine { return a.eng }
