// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading core — outcome and
// side enums, order intents, fills, trades, execution results, market state
// snapshots, and the typed log events. It has no dependencies on internal
// packages, so it can be imported by any layer.
//
// All monetary, share and price quantities are shopspring decimals. Prices
// live in the open interval (0, 1); a YES share pays $1 when the market
// settles YES and $0 otherwise.
package types

import (
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Outcome is one of the two sides of a binary market.
type Outcome string

const (
	YES Outcome = "YES"
	NO  Outcome = "NO"
)

// Valid reports whether o is a known outcome tag.
func (o Outcome) Valid() bool { return o == YES || o == NO }

// Opposite returns the other outcome.
func (o Outcome) Opposite() Outcome {
	if o == YES {
		return NO
	}
	return YES
}

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == BUY || s == SELL }

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	LIMIT  OrderType = "LIMIT"  // rests on the book when not fully crossed
	MARKET OrderType = "MARKET" // walks available depth, never rests
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool { return t == LIMIT || t == MARKET }

// OrderStatus tracks an order through its lifecycle.
// Terminal states are FILLED, CANCELLED and REJECTED.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// EngineType tags which execution engine produced a result or event.
// The hybrid router reports EngineBoth when an intent was split across
// the order book and the AMM.
type EngineType string

const (
	EngineCLOB   EngineType = "CLOB"
	EngineLMSR   EngineType = "LMSR"
	EngineHybrid EngineType = "HYBRID"
	EngineBoth   EngineType = "CLOB+LMSR"
)

// ————————————————————————————————————————————————————————————————————————
// Order flow
// ————————————————————————————————————————————————————————————————————————

// OrderIntent is the engine-agnostic order request emitted by the workload
// generators. Exactly one of Qty or Spend must be set; Price is required
// for LIMIT orders and must lie in (0, 1). Timestamp is the logical
// submission time assigned by the generator — engines never read a clock.
type OrderIntent struct {
	ID        string           `json:"id"`
	TraderID  string           `json:"traderId"`
	Outcome   Outcome          `json:"outcome"`
	Side      Side             `json:"side"`
	Type      OrderType        `json:"orderType"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Qty       *decimal.Decimal `json:"qty,omitempty"`
	Spend     *decimal.Decimal `json:"spend,omitempty"`
	Timestamp float64          `json:"timestamp"`
}

// Fill records one execution against an intent. For CLOB fills MakerOrderID
// identifies the resting order whose limit price set the execution price;
// LMSR fills leave it empty (the AMM is the counterparty).
type Fill struct {
	TradeID      string          `json:"tradeId"`
	Engine       EngineType      `json:"engine"`
	MakerOrderID string          `json:"makerOrderId,omitempty"`
	MakerTrader  string          `json:"makerTrader,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	Timestamp    float64         `json:"timestamp"`
}

// Trade is the immutable record of one CLOB match. Both order ids are kept
// so either party's history can be reconstructed from the trade log alone.
type Trade struct {
	ID          string          `json:"id"`
	BidOrderID  string          `json:"bidOrderId"`
	AskOrderID  string          `json:"askOrderId"`
	BidTraderID string          `json:"bidTraderId"`
	AskTraderID string          `json:"askTraderId"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	Timestamp   float64         `json:"timestamp"`
}

// BalanceDelta is the net effect of one execution on a single trader.
type BalanceDelta struct {
	Cash      decimal.Decimal `json:"cash"`
	YesShares decimal.Decimal `json:"yesShares"`
	NoShares  decimal.Decimal `json:"noShares"`
}

// ExecutionResult is the single, complete answer to one OrderIntent.
// Status plus RejectionReason fully describe the outcome; no error ever
// crosses the engine boundary for a validation failure.
type ExecutionResult struct {
	Engine          EngineType              `json:"engine"`
	Intent          OrderIntent             `json:"intent"`
	OrderID         string                  `json:"orderId,omitempty"`
	Status          OrderStatus             `json:"status"`
	RejectionReason string                  `json:"rejectionReason,omitempty"`
	Fills           []Fill                  `json:"fills"`
	FilledQty       decimal.Decimal         `json:"filledQty"`
	RemainingQty    decimal.Decimal         `json:"remainingQty"`
	AvgFillPrice    *decimal.Decimal        `json:"avgFillPrice,omitempty"`
	PriceBefore     *decimal.Decimal        `json:"priceBefore,omitempty"`
	PriceAfter      *decimal.Decimal        `json:"priceAfter,omitempty"`
	Slippage        *decimal.Decimal        `json:"slippage,omitempty"`
	PriceImpact     *decimal.Decimal        `json:"priceImpact,omitempty"`
	BalanceDeltas   map[string]BalanceDelta `json:"balanceDeltas"`
	Snapshot        MarketStateSnapshot     `json:"snapshot"`
	Logs            []LogEvent              `json:"logs"`
	CompletedAt     float64                 `json:"completedAt"`
}

// ————————————————————————————————————————————————————————————————————————
// Market state
// ————————————————————————————————————————————————————————————————————————

// BookLevel is one aggregated price level of the order book.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// BookSnapshot is a point-in-time view of the CLOB. Pointer fields are nil
// when the corresponding side of the book is empty.
type BookSnapshot struct {
	BestBid        *decimal.Decimal `json:"bestBid,omitempty"`
	BestAsk        *decimal.Decimal `json:"bestAsk,omitempty"`
	Spread         *decimal.Decimal `json:"spread,omitempty"`
	MidPrice       *decimal.Decimal `json:"midPrice,omitempty"`
	Bids           []BookLevel      `json:"bids"`
	Asks           []BookLevel      `json:"asks"`
	LastTradePrice *decimal.Decimal `json:"lastTradePrice,omitempty"`
}

// AMMSnapshot is a point-in-time view of the LMSR market maker.
type AMMSnapshot struct {
	B              decimal.Decimal `json:"b"`
	QYes           decimal.Decimal `json:"qYes"`
	QNo            decimal.Decimal `json:"qNo"`
	PriceYes       decimal.Decimal `json:"priceYes"`
	PriceNo        decimal.Decimal `json:"priceNo"`
	TotalCollected decimal.Decimal `json:"totalCollected"`
	Settled        bool            `json:"settled"`
	Outcome        *Outcome        `json:"outcome,omitempty"`
}

// MarketStateSnapshot is the uniform state view every engine variant
// exposes. CLOB engines populate Book, LMSR engines populate AMM, the
// hybrid router populates both.
type MarketStateSnapshot struct {
	Engine    EngineType    `json:"engine"`
	Timestamp float64       `json:"timestamp"`
	Book      *BookSnapshot `json:"book,omitempty"`
	AMM       *AMMSnapshot  `json:"amm,omitempty"`
}

// TraderState is the externally visible view of one trader account.
// OpenOrders is sorted so serialized snapshots are deterministic.
type TraderState struct {
	ID             string          `json:"id"`
	Cash           decimal.Decimal `json:"cash"`
	YesShares      decimal.Decimal `json:"yesShares"`
	NoShares       decimal.Decimal `json:"noShares"`
	PendingSellQty decimal.Decimal `json:"pendingSellQty"`
	OpenOrders     []string        `json:"openOrders"`
}

// ————————————————————————————————————————————————————————————————————————
// Log events
// ————————————————————————————————————————————————————————————————————————

// EventType enumerates the typed event stream variants.
type EventType string

const (
	EventOrderReceived        EventType = "ORDER_RECEIVED"
	EventOrderAccepted        EventType = "ORDER_ACCEPTED"
	EventOrderRejected        EventType = "ORDER_REJECTED"
	EventOrderFilled          EventType = "ORDER_FILLED"
	EventOrderPartiallyFilled EventType = "ORDER_PARTIALLY_FILLED"
	EventOrderCancelled       EventType = "ORDER_CANCELLED"
	EventTradeExecuted        EventType = "TRADE_EXECUTED"
	EventMarketStateUpdate    EventType = "MARKET_STATE_UPDATE"
	EventRoutingDecision      EventType = "ROUTING_DECISION"
	EventBookSnapshot         EventType = "BOOK_SNAPSHOT"
	EventSettlement           EventType = "SETTLEMENT"
	EventQuote                EventType = "QUOTE"
	EventError                EventType = "ERROR"
)

// LogEvent is one entry of the append-only event stream. Data values are
// either plain strings/numbers or decimals; decimals serialize as quoted
// strings and map keys enumerate in sorted order, so the JSON form of a
// run is byte-identical across replays of the same seed.
type LogEvent struct {
	Type      EventType      `json:"type"`
	Engine    EngineType     `json:"engineType"`
	Timestamp float64        `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
