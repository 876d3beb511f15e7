package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"predictsim/internal/eventlog"
	"predictsim/internal/ledger"
	"predictsim/internal/lmsr"
	"predictsim/pkg/types"
)

// Rejection reasons for intents the AMM cannot express. The LMSR has no
// short-sell: selling YES is expressed by buying NO, and nothing ever
// rests, so limit orders have no meaning here.
const (
	reasonSellOnAMM  = "LMSR does not support sell orders"
	reasonLimitOnAMM = "limit orders not supported on LMSR"
)

// LMSRAdapter exposes the automated market maker through the uniform
// surface. Quotes always fill in full — the AMM is the counterparty — so
// every accepted intent ends FILLED with exactly one fill.
type LMSRAdapter struct {
	mu     sync.Mutex
	logger *slog.Logger
	b      decimal.Decimal

	market     *lmsr.Market
	sink       *eventlog.Sink
	inits      []ledger.TraderInit
	fillSeq    int64
	lastTS     float64
	settlement *lmsr.Settlement
}

// NewLMSR creates an AMM-backed engine with liquidity parameter b.
func NewLMSR(b decimal.Decimal, logger *slog.Logger) (*LMSRAdapter, error) {
	market, err := lmsr.NewMarket(b, nil)
	if err != nil {
		return nil, err
	}
	return &LMSRAdapter{
		logger: logger.With("component", "lmsr-engine"),
		b:      b,
		market: market,
		sink:   eventlog.New(types.EngineLMSR),
	}, nil
}

// Type implements Engine.
func (a *LMSRAdapter) Type() types.EngineType { return types.EngineLMSR }

// AddTrader implements Engine. LMSR traders start with zero shares; a
// non-zero starting position is a caller error.
func (a *LMSRAdapter) AddTrader(id string, cash, yesShares decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if yesShares.Sign() != 0 {
		return fmt.Errorf("%w: lmsr traders start with zero shares", ledger.ErrInvalidInput)
	}
	if _, err := a.market.Ledger.AddTrader(id, cash); err != nil {
		return err
	}
	a.inits = append(a.inits, ledger.TraderInit{ID: id, Cash: cash})
	return nil
}

// ProcessOrder implements Engine.
func (a *LMSRAdapter) ProcessOrder(intent types.OrderIntent) types.ExecutionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastTS = intent.Timestamp
	mark := a.sink.Len()
	a.sink.Emit(types.EventOrderReceived, intent.Timestamp, intentSummary(intent))

	if reason := a.validate(intent); reason != "" {
		return a.reject(intent, reason, mark)
	}

	var (
		exec *lmsr.Execution
		err  error
	)
	if intent.Qty != nil {
		exec, err = a.market.ExecuteBuy(intent.TraderID, intent.Outcome, *intent.Qty)
	} else {
		exec, err = a.market.ExecuteBuySpend(intent.TraderID, intent.Outcome, *intent.Spend)
	}
	if err != nil {
		return a.reject(intent, rejectReason(err), mark)
	}

	q := exec.Quote
	a.fillSeq++
	fill := types.Fill{
		TradeID:   fmt.Sprintf("amm-%d", a.fillSeq),
		Engine:    types.EngineLMSR,
		Price:     q.AvgPrice,
		Qty:       q.Qty,
		Timestamp: intent.Timestamp,
	}

	a.sink.Emit(types.EventQuote, intent.Timestamp, map[string]any{
		"intentId": intent.ID,
		"outcome":  string(q.Outcome),
		"qty":      q.Qty,
		"payment":  q.Payment,
		"avgPrice": q.AvgPrice,
	})
	a.sink.Emit(types.EventOrderAccepted, intent.Timestamp, map[string]any{"intentId": intent.ID})
	a.sink.Emit(types.EventTradeExecuted, intent.Timestamp, map[string]any{
		"intentId": intent.ID,
		"tradeId":  fill.TradeID,
		"price":    fill.Price,
		"qty":      fill.Qty,
	})
	a.sink.Emit(types.EventOrderFilled, intent.Timestamp, map[string]any{
		"intentId":  intent.ID,
		"filled":    q.Qty,
		"remaining": decimal.Zero,
	})
	a.sink.Emit(types.EventMarketStateUpdate, intent.Timestamp, map[string]any{
		"qYes":     a.market.State.QYes,
		"qNo":      a.market.State.QNo,
		"priceYes": q.PriceYesAfter,
		"priceNo":  q.PriceNoAfter,
	})

	before, after := outcomePrices(q)
	deltas := map[string]types.BalanceDelta{}
	if q.Outcome == types.YES {
		accumulateDelta(deltas, intent.TraderID, q.Payment.Neg(), q.Qty, decimal.Zero)
	} else {
		accumulateDelta(deltas, intent.TraderID, q.Payment.Neg(), decimal.Zero, q.Qty)
	}

	a.logger.Debug("buy executed",
		"intent", intent.ID, "outcome", string(q.Outcome), "payment", q.Payment.String())

	avg := q.AvgPrice
	return types.ExecutionResult{
		Engine:        types.EngineLMSR,
		Intent:        intent,
		OrderID:       fill.TradeID,
		Status:        types.StatusFilled,
		Fills:         []types.Fill{fill},
		FilledQty:     q.Qty,
		RemainingQty:  decimal.Zero,
		AvgFillPrice:  &avg,
		PriceBefore:   &before,
		PriceAfter:    &after,
		Slippage:      slippage(types.BUY, &avg, &before),
		PriceImpact:   priceImpact(types.BUY, &before, &after),
		BalanceDeltas: deltas,
		Snapshot:      a.snapshot(),
		Logs:          a.sink.Since(mark),
		CompletedAt:   intent.Timestamp,
	}
}

// outcomePrices extracts the traded outcome's reference prices from a
// quote.
func outcomePrices(q lmsr.Quote) (before, after decimal.Decimal) {
	if q.Outcome == types.YES {
		return q.PriceYesBefore, q.PriceYesAfter
	}
	return q.PriceNoBefore, q.PriceNoAfter
}

func (a *LMSRAdapter) validate(intent types.OrderIntent) string {
	if reason := validateIntent(intent); reason != "" {
		return reason
	}
	if intent.Side == types.SELL {
		return reasonSellOnAMM
	}
	if intent.Type == types.LIMIT {
		return reasonLimitOnAMM
	}
	return ""
}

// rejectReason maps engine errors onto the uniform reason strings.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, lmsr.ErrInsufficientCash):
		return "insufficient cash"
	case errors.Is(err, ledger.ErrUnknownTrader):
		return "unknown trader"
	case errors.Is(err, lmsr.ErrSettled):
		return reasonMarketSettledStr
	case errors.Is(err, lmsr.ErrInvalidQty):
		return reasonInvalidQty
	case errors.Is(err, lmsr.ErrInvalidSpend):
		return reasonInvalidSpend
	case errors.Is(err, lmsr.ErrPrecision):
		return "quote bisection failed to converge"
	default:
		return err.Error()
	}
}

func (a *LMSRAdapter) reject(intent types.OrderIntent, reason string, mark int) types.ExecutionResult {
	a.sink.Emit(types.EventOrderRejected, intent.Timestamp, map[string]any{
		"intentId": intent.ID,
		"reason":   reason,
	})
	a.logger.Debug("order rejected", "intent", intent.ID, "reason", reason)
	return rejectionResult(types.EngineLMSR, intent, reason, a.snapshot(), a.sink.Since(mark))
}

func (a *LMSRAdapter) snapshot() types.MarketStateSnapshot {
	amm := a.market.State.Snapshot()
	return types.MarketStateSnapshot{
		Engine:    types.EngineLMSR,
		Timestamp: a.lastTS,
		AMM:       &amm,
	}
}

// CancelOrder implements Engine. Nothing rests on the AMM.
func (a *LMSRAdapter) CancelOrder(string, float64) (types.OrderStatus, error) {
	return "", fmt.Errorf("%w: lmsr orders execute atomically", ErrNotSupported)
}

// Settle implements Engine.
func (a *LMSRAdapter) Settle(outcome types.Outcome, ts float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	settlement, err := a.market.Settle(outcome)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	a.settlement = settlement
	a.sink.Emit(types.EventSettlement, ts, map[string]any{
		"outcome":       string(outcome),
		"totalPayout":   settlement.TotalPayout,
		"profitLoss":    settlement.ProfitLoss,
		"worstCaseLoss": settlement.WorstCaseLoss,
	})
	a.logger.Info("market settled",
		"outcome", string(outcome),
		"payout", settlement.TotalPayout.String(),
		"pnl", settlement.ProfitLoss.String())
	return nil
}

// GetMarketState implements Engine.
func (a *LMSRAdapter) GetMarketState() types.MarketStateSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// GetTraderState implements Engine.
func (a *LMSRAdapter) GetTraderState(id string) (types.TraderState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, err := a.market.Ledger.Trader(id)
	if err != nil {
		return types.TraderState{}, err
	}
	return acct.State(), nil
}

// GetAllTraderStates implements Engine.
func (a *LMSRAdapter) GetAllTraderStates() []types.TraderState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.market.Ledger.States()
}

// GetMidPrice implements Engine. The AMM's reference price is pYES.
func (a *LMSRAdapter) GetMidPrice() (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pYes, _ := lmsr.Prices(a.market.State)
	return pYes, true
}

// GetBestBid implements Engine. The AMM quotes continuously; there is no
// resting bid.
func (a *LMSRAdapter) GetBestBid() (decimal.Decimal, bool) { return decimal.Decimal{}, false }

// GetBestAsk implements Engine.
func (a *LMSRAdapter) GetBestAsk() (decimal.Decimal, bool) { return decimal.Decimal{}, false }

// GetSpread implements Engine.
func (a *LMSRAdapter) GetSpread() (decimal.Decimal, bool) { return decimal.Decimal{}, false }

// GetDepth implements Engine.
func (a *LMSRAdapter) GetDepth(types.Side, int) decimal.Decimal { return decimal.Zero }

// GetLogs implements Engine.
func (a *LMSRAdapter) GetLogs() []types.LogEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink.Events()
}

// ClearLogs implements Engine.
func (a *LMSRAdapter) ClearLogs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink.Clear()
}

// Reset implements Engine.
func (a *LMSRAdapter) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	market, err := lmsr.NewMarket(a.b, a.inits)
	if err != nil {
		return err
	}
	a.market = market
	a.sink.Clear()
	a.fillSeq = 0
	a.lastTS = 0
	a.settlement = nil
	return nil
}

// Market exposes the underlying AMM for settlement metrics.
func (a *LMSRAdapter) Market() *lmsr.Market { return a.market }

// LastSettlement returns the terminal accounting once Settle has run,
// nil before.
func (a *LMSRAdapter) LastSettlement() *lmsr.Settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settlement
}
