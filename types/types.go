// Package types holds the shared domain types for the executor pipeline.
// Kept at the top level, rather than under internal/, to avoid import
// cycles between order, signer, sender, confirm and executor.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TIF is the time-in-force of a limit order.
type TIF string

const (
	TIFGTC TIF = "GTC"
	TIFIOC TIF = "IOC"
	TIFALO TIF = "ALO"
)

// Intent describes whether an order opens or closes exposure.
type Intent string

const (
	IntentEntry Intent = "entry"
	IntentExit  Intent = "exit"
)

// Aggressiveness tunes how many child orders a decision is split into.
type Aggressiveness string

const (
	AggressivenessLow    Aggressiveness = "low"
	AggressivenessNormal Aggressiveness = "normal"
	AggressivenessHigh   Aggressiveness = "high"
)

// OrderStatus is the outcome classification of a confirmed order.
type OrderStatus string

const (
	StatusFilled   OrderStatus = "filled"
	StatusPartial  OrderStatus = "partial"
	StatusExpired  OrderStatus = "expired"
	StatusRejected OrderStatus = "rejected"
	StatusError    OrderStatus = "error"
)

// MarketSnapshot is the book state a decision was made against.
//
// When Mid is zero and both Bid and Ask are set, the Coordinator fills Mid
// with (Bid+Ask)/2. No other upstream alias fields are read.
type MarketSnapshot struct {
	Coin string
	Mid  decimal.Decimal
	Bid  decimal.Decimal
	Ask  decimal.Decimal
}

// RiskAllocation is an optional sizing hint carried on a DecisionPayload.
// It may only ever narrow or widen Order.Size; it never touches price or side.
type RiskAllocation struct {
	// SizeMultiplier scales the built order's size. Zero means "unset".
	SizeMultiplier decimal.Decimal
	// MaxSize caps the resulting size after scaling. Zero means "unset".
	MaxSize decimal.Decimal
}

// OpenPosition describes an existing position, used to infer Intent when
// the payload does not state one explicitly and to compute realized PnL on
// exit. EntryPrice is the price the position was opened at; it is unrelated
// to the current Market.Mid of the decision that closes it.
type OpenPosition struct {
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

// DecisionPayload is produced upstream, per tick, and is immutable once it
// enters the pipeline.
type DecisionPayload struct {
	Timestamp      time.Time
	Side           Side
	Size           decimal.Decimal
	Market         MarketSnapshot
	Price          *decimal.Decimal
	Intent         *Intent
	OpenPosition   *OpenPosition
	RiskAllocation *RiskAllocation
	DecisionID     string
	Aggressiveness Aggressiveness
	TIF            TIF
}

// Order is the built, validated, and then-frozen representation of one
// decision. ClientOrderID is the idempotency key used throughout the store.
type Order struct {
	ClientOrderID  string
	Symbol         string
	Side           Side
	Size           decimal.Decimal
	Price          decimal.Decimal
	TIF            TIF
	Intent         Intent
	Aggressiveness Aggressiveness
	SplitCount     int
}

// LimitWrapper models HL's orderType:{limit:{tif}} nesting.
type LimitWrapper struct {
	TIF TIF `json:"tif"`
}

// OrderTypeWrapper wraps the limit order type.
type OrderTypeWrapper struct {
	Limit LimitWrapper `json:"limit"`
}

// HLChildOrder is one split child order inside an HLAction.
type HLChildOrder struct {
	Asset      string           `json:"asset"`
	IsBuy      bool             `json:"isBuy"`
	LimitPx    string           `json:"limitPx"`
	Sz         string           `json:"sz"`
	ReduceOnly bool             `json:"reduceOnly"`
	OrderType  OrderTypeWrapper `json:"orderType"`
}

// HLAction is the byte-exact action object: the same value is signed and
// sent. Never mutate an HLAction after it has been built.
type HLAction struct {
	Type     string         `json:"type"`
	Orders   []HLChildOrder `json:"orders"`
	Grouping string         `json:"grouping"`
}

// SignResult is issued once per order attempt by the signer client.
type SignResult struct {
	Signature    string
	Nonce        uint64
	AgentAddress string
}

// OrderResult is the terminal outcome returned to the coordinator's caller.
type OrderResult struct {
	OrderID       string
	Status        OrderStatus
	Side          Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
	Timestamp     time.Time
	Error         string
	Signature     string
	Nonce         uint64
	AgentAddress  string
}

// Mode selects whether a handle call is routed through the live FIFO queue.
type Mode string

const (
	ModeLive Mode = "live"
	ModeTest Mode = "test"
)

// WSState reports the health of the upstream market-data feed.
type WSState string

const (
	WSStateOK    WSState = "ok"
	WSStateStale WSState = "stale"
	WSStateLost  WSState = "lost"
)

// ExecContext carries the per-call execution environment through the
// build→sign→send→confirm pipeline.
type ExecContext struct {
	Mode       Mode
	WSState    WSState
	DecisionID string
	EntryTS    time.Time
	// SyncBalance, when non-nil, is invoked after a successful live confirm.
	SyncBalance func() error
}

// TradeRecord is the durable, append-only row written for each OrderResult
// that reaches the confirm step (expansion, SPEC_FULL.md §2.2); results
// returned earlier (guard errors, duplicates, send failures) are not
// recorded. It is a pure downstream
// consumer and never gates the order path.
type TradeRecord struct {
	ID        string
	Asset     string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Action    string
	PnL       decimal.Decimal
	Timestamp time.Time
}
