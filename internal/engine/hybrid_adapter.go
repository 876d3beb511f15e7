package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"predictsim/internal/eventlog"
	"predictsim/internal/ledger"
	"predictsim/internal/lmsr"
	"predictsim/internal/num"
	"predictsim/internal/router"
	"predictsim/pkg/types"
)

// HybridAdapter exposes the hybrid router through the uniform surface.
// Its reference price is the book mid (its complement for NO intents) when
// both sides exist, falling back to the AMM's price for the traded outcome
// on a thin book.
type HybridAdapter struct {
	mu     sync.Mutex
	logger *slog.Logger
	cfg    router.Config

	rtr    *router.Router
	sink   *eventlog.Sink
	inits  []ledger.TraderInit
	lastTS float64
}

// NewHybrid creates a hybrid engine from a router configuration.
func NewHybrid(cfg router.Config, logger *slog.Logger) (*HybridAdapter, error) {
	sink := eventlog.New(types.EngineHybrid)
	rtr, err := router.New(cfg, sink)
	if err != nil {
		return nil, err
	}
	return &HybridAdapter{
		logger: logger.With("component", "hybrid-engine"),
		cfg:    cfg,
		rtr:    rtr,
		sink:   sink,
	}, nil
}

// Type implements Engine.
func (a *HybridAdapter) Type() types.EngineType { return types.EngineHybrid }

// AddTrader implements Engine.
func (a *HybridAdapter) AddTrader(id string, cash, yesShares decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.rtr.AddTrader(id, cash, yesShares); err != nil {
		return err
	}
	a.inits = append(a.inits, ledger.TraderInit{ID: id, Cash: cash, YesShares: yesShares})
	return nil
}

// ProcessOrder implements Engine.
func (a *HybridAdapter) ProcessOrder(intent types.OrderIntent) types.ExecutionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastTS = intent.Timestamp
	mark := a.sink.Len()
	a.sink.Emit(types.EventOrderReceived, intent.Timestamp, intentSummary(intent))

	if reason := validateIntent(intent); reason != "" {
		return a.reject(intent, reason, mark)
	}
	if intent.Side == types.SELL && intent.Spend != nil {
		// Sells route to the book, and the book has no spend path.
		return a.reject(intent, reasonSpendOnBook, mark)
	}
	if intent.Side == types.SELL && intent.Outcome == types.NO {
		// Sells route to the book, and the book trades YES only.
		return a.reject(intent, reasonNoOutcomeOnBook, mark)
	}
	if a.rtr.Shared().Settled() {
		return a.reject(intent, reasonMarketSettledStr, mark)
	}

	refBefore := a.referencePrice(intent.Outcome)

	disp := a.rtr.Process(intent)
	if disp.Status == types.StatusRejected {
		return a.reject(intent, disp.Reason, mark)
	}

	if disp.Fills == nil {
		disp.Fills = []types.Fill{}
	}
	a.sink.Emit(types.EventOrderAccepted, intent.Timestamp, map[string]any{
		"intentId": intent.ID,
		"engine":   string(disp.Engine),
	})
	for _, f := range disp.Fills {
		a.sink.EmitAs(f.Engine, types.EventTradeExecuted, intent.Timestamp, map[string]any{
			"intentId": intent.ID,
			"tradeId":  f.TradeID,
			"price":    f.Price,
			"qty":      f.Qty,
		})
	}
	a.emitFinal(intent, disp)

	refAfter := a.referencePrice(intent.Outcome)
	a.sink.Emit(types.EventMarketStateUpdate, intent.Timestamp, map[string]any{
		"intentId": intent.ID,
	})

	deltas := a.dispatchDeltas(intent, disp)
	avg := vwap(disp.Fills)

	a.logger.Debug("order routed",
		"intent", intent.ID, "engine", string(disp.Engine), "status", string(disp.Status))

	return types.ExecutionResult{
		Engine:        disp.Engine,
		Intent:        intent,
		OrderID:       disp.OrderID,
		Status:        disp.Status,
		Fills:         disp.Fills,
		FilledQty:     disp.FilledQty,
		RemainingQty:  disp.RemainingQty,
		AvgFillPrice:  avg,
		PriceBefore:   refBefore,
		PriceAfter:    refAfter,
		Slippage:      slippage(intent.Side, avg, refBefore),
		PriceImpact:   priceImpact(intent.Side, refBefore, refAfter),
		BalanceDeltas: deltas,
		Snapshot:      a.snapshot(),
		Logs:          a.sink.Since(mark),
		CompletedAt:   intent.Timestamp,
	}
}

// dispatchDeltas reconstructs per-trader balance movements from the fills.
func (a *HybridAdapter) dispatchDeltas(intent types.OrderIntent, disp *router.Dispatch) map[string]types.BalanceDelta {
	deltas := map[string]types.BalanceDelta{}
	for _, f := range disp.Fills {
		if f.Engine == types.EngineCLOB {
			clobFillDeltas(deltas, intent.TraderID, intent.Side, []types.Fill{f})
			continue
		}
		payment := f.Price.Mul(f.Qty)
		if intent.Outcome == types.YES {
			accumulateDelta(deltas, intent.TraderID, payment.Neg(), f.Qty, decimal.Zero)
		} else {
			accumulateDelta(deltas, intent.TraderID, payment.Neg(), decimal.Zero, f.Qty)
		}
	}
	return deltas
}

func (a *HybridAdapter) emitFinal(intent types.OrderIntent, disp *router.Dispatch) {
	data := map[string]any{
		"intentId":  intent.ID,
		"filled":    disp.FilledQty,
		"remaining": disp.RemainingQty,
	}
	switch disp.Status {
	case types.StatusFilled:
		a.sink.Emit(types.EventOrderFilled, intent.Timestamp, data)
	case types.StatusPartiallyFilled:
		a.sink.Emit(types.EventOrderPartiallyFilled, intent.Timestamp, data)
	}
}

// referencePrice is the book mid when quotable, otherwise the AMM price
// for the outcome being traded.
func (a *HybridAdapter) referencePrice(outcome types.Outcome) *decimal.Decimal {
	if mid, ok := a.rtr.Book().MidPrice(); ok {
		if outcome == types.NO {
			return num.Ptr(num.One.Sub(mid))
		}
		return num.Ptr(mid)
	}
	pYes, pNo := lmsr.Prices(a.rtr.AMM().State)
	if outcome == types.NO {
		return num.Ptr(pNo)
	}
	return num.Ptr(pYes)
}

func (a *HybridAdapter) reject(intent types.OrderIntent, reason string, mark int) types.ExecutionResult {
	a.sink.Emit(types.EventOrderRejected, intent.Timestamp, map[string]any{
		"intentId": intent.ID,
		"reason":   reason,
	})
	a.logger.Debug("order rejected", "intent", intent.ID, "reason", reason)
	return rejectionResult(types.EngineHybrid, intent, reason, a.snapshot(), a.sink.Since(mark))
}

func (a *HybridAdapter) snapshot() types.MarketStateSnapshot {
	amm := a.rtr.AMM().State.Snapshot()
	return types.MarketStateSnapshot{
		Engine:    types.EngineHybrid,
		Timestamp: a.lastTS,
		Book:      a.rtr.Book().Snapshot(snapshotLevels),
		AMM:       &amm,
	}
}

// CancelOrder implements Engine. Only book orders rest, so cancellation
// delegates to the CLOB sub-engine and re-syncs the shared position.
func (a *HybridAdapter) CancelOrder(orderID string, ts float64) (types.OrderStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status, err := a.rtr.Book().Cancel(orderID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidState, reasonMarketSettledStr)
	}
	a.rtr.LiftAll()
	a.sink.Emit(types.EventOrderCancelled, ts, map[string]any{"orderId": orderID})
	return status, nil
}

// Settle implements Engine.
func (a *HybridAdapter) Settle(outcome types.Outcome, ts float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	settlement, err := a.rtr.Settle(outcome)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	a.sink.Emit(types.EventSettlement, ts, map[string]any{
		"outcome":       string(outcome),
		"totalPayout":   settlement.TotalPayout,
		"profitLoss":    settlement.ProfitLoss,
		"worstCaseLoss": settlement.WorstCaseLoss,
	})
	return nil
}

// GetMarketState implements Engine.
func (a *HybridAdapter) GetMarketState() types.MarketStateSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// GetTraderState implements Engine. Shared positions are authoritative.
func (a *HybridAdapter) GetTraderState(id string) (types.TraderState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, err := a.rtr.Shared().Trader(id)
	if err != nil {
		return types.TraderState{}, err
	}
	return acct.State(), nil
}

// GetAllTraderStates implements Engine.
func (a *HybridAdapter) GetAllTraderStates() []types.TraderState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rtr.Shared().States()
}

// GetMidPrice implements Engine.
func (a *HybridAdapter) GetMidPrice() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if mid, ok := a.rtr.Book().MidPrice(); ok {
		return mid, true
	}
	pYes, _ := lmsr.Prices(a.rtr.AMM().State)
	return pYes, true
}

// GetBestBid implements Engine.
func (a *HybridAdapter) GetBestBid() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rtr.Book().BestBid()
}

// GetBestAsk implements Engine.
func (a *HybridAdapter) GetBestAsk() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rtr.Book().BestAsk()
}

// GetSpread implements Engine.
func (a *HybridAdapter) GetSpread() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rtr.Book().Spread()
}

// GetDepth implements Engine.
func (a *HybridAdapter) GetDepth(side types.Side, ticks int) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rtr.Book().Depth(side, ticks)
}

// GetLogs implements Engine.
func (a *HybridAdapter) GetLogs() []types.LogEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink.Events()
}

// ClearLogs implements Engine.
func (a *HybridAdapter) ClearLogs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink.Clear()
}

// Reset implements Engine.
func (a *HybridAdapter) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink.Clear()
	rtr, err := router.New(a.cfg, a.sink)
	if err != nil {
		return err
	}
	for _, init := range a.inits {
		if err := rtr.AddTrader(init.ID, init.Cash, init.YesShares); err != nil {
			return err
		}
	}
	a.rtr = rtr
	a.lastTS = 0
	return nil
}

// Router exposes the underlying router for sync round-trip tests.
func (a *HybridAdapter) Router() *router.Router { return a.rtr }
