// Package domain holds the exchange's core value types: orders, trades,
// accounts and symbol specifications. Nothing in this package owns mutable
// shared state — that belongs to internal/book, internal/account and
// internal/matching.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type is the order type.
type Type string

const (
	TypeLimit            Type = "LIMIT"
	TypeMarket           Type = "MARKET"
	TypeStopLoss         Type = "STOP_LOSS"
	TypeStopLossLimit    Type = "STOP_LOSS_LIMIT"
	TypeTakeProfit       Type = "TAKE_PROFIT"
	TypeTakeProfitLimit  Type = "TAKE_PROFIT_LIMIT"
	TypeLimitMaker       Type = "LIMIT_MAKER"
)

// IsStopType reports whether the order type is parked until a stop price is touched.
func (t Type) IsStopType() bool {
	switch t {
	case TypeStopLoss, TypeStopLossLimit, TypeTakeProfit, TypeTakeProfitLimit:
		return true
	default:
		return false
	}
}

// TriggeredType returns the type an order becomes once its stop price is touched.
func (t Type) TriggeredType() Type {
	switch t {
	case TypeStopLoss, TypeTakeProfit:
		return TypeMarket
	case TypeStopLossLimit, TypeTakeProfitLimit:
		return TypeLimit
	default:
		return t
	}
}

// TimeInForce governs how a LIMIT order behaves against the book.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// Status is an order's lifecycle state.
type Status string

const (
	StatusNew              Status = "NEW"
	StatusPartiallyFilled  Status = "PARTIALLY_FILLED"
	StatusFilled           Status = "FILLED"
	StatusCanceled         Status = "CANCELED"
	StatusRejected         Status = "REJECTED"
	StatusExpired          Status = "EXPIRED"
	StatusExpiredInMatch   Status = "EXPIRED_IN_MATCH"
)

// IsTerminal reports whether the order can no longer be mutated by matching.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired, StatusExpiredInMatch:
		return true
	default:
		return false
	}
}

// SelfTradePrevention governs what happens when an incoming order would trade
// against a resting order of the same user.
type SelfTradePrevention string

const (
	STPNone         SelfTradePrevention = "NONE"
	STPExpireTaker  SelfTradePrevention = "EXPIRE_TAKER"
	STPExpireMaker  SelfTradePrevention = "EXPIRE_MAKER"
	STPExpireBoth   SelfTradePrevention = "EXPIRE_BOTH"
)

// PriceMatch derives an order's price from the current book instead of an
// absolute value.
type PriceMatch string

const (
	PriceMatchNone     PriceMatch = "NONE"
	PriceMatchOpponent PriceMatch = "OPPONENT"
	PriceMatchQueue    PriceMatch = "QUEUE"
)

// ChangeType is the single, unified order-event enumeration referenced by
// both the internal notification bus and WS order-update payloads.
type ChangeType string

const (
	ChangeNew            ChangeType = "NEW"
	ChangeTrade          ChangeType = "TRADE"
	ChangeCanceled       ChangeType = "CANCELED"
	ChangeExpired        ChangeType = "EXPIRED"
	ChangeExpiredInMatch ChangeType = "EXPIRED_IN_MATCH"
	ChangeRejected       ChangeType = "REJECTED"
)

// Order is the authoritative representation of a resting or archived order.
type Order struct {
	OrderID             string
	ClientOrderID       string
	Symbol              string
	UserID              string
	Side                Side
	Type                Type
	TimeInForce         TimeInForce
	Price               decimal.Decimal
	StopPrice           decimal.Decimal
	QuoteOrderQty       decimal.Decimal
	Quantity            decimal.Decimal
	FilledQuantity      decimal.Decimal
	FilledQuoteQuantity decimal.Decimal
	Status              Status
	SelfTradePrevention SelfTradePrevention
	PriceMatch          PriceMatch
	Timestamp           int64
	UpdateTime          int64

	// ReservedAsset/ReservedAmount record what AccountManager.Reserve locked
	// for this order so cancellation/expiry can release exactly that much.
	ReservedAsset  string
	ReservedAmount decimal.Decimal

	// RejectReason is set when Status == StatusRejected, and carries the STP
	// reason when an order ends EXPIRED_IN_MATCH.
	RejectReason string
}

// Remaining returns quantity not yet filled.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsBuy is a convenience accessor.
func (o *Order) IsBuy() bool { return o.Side == SideBuy }

// Clone returns a deep-enough copy safe to hand to callers outside the lock
// that guards the live order (decimal.Decimal is immutable, so a shallow
// struct copy is sufficient).
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// Trade is an immutable fill record.
type Trade struct {
	TradeID         int64
	Symbol          string
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	QuoteQuantity   decimal.Decimal
	Timestamp       int64
	BuyOrderID      string
	SellOrderID     string
	BuyUserID       string
	SellUserID      string
	MakerSide           Side
	BuyCommission       decimal.Decimal
	SellCommission      decimal.Decimal
	BuyCommissionAsset  string // base asset: the buyer is charged in what they received
	SellCommissionAsset string // quote asset: the seller is charged in what they received
}

// SymbolFilterPrice is the price filter from a symbol specification.
type SymbolFilterPrice struct {
	Min  decimal.Decimal
	Max  decimal.Decimal
	Tick decimal.Decimal
}

// SymbolFilterLot is the lot-size filter from a symbol specification.
type SymbolFilterLot struct {
	Min  decimal.Decimal
	Max  decimal.Decimal
	Step decimal.Decimal
}

// Symbol is a trading pair specification.
type Symbol struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	BasePrecision  int32
	QuotePrecision int32
	Price          SymbolFilterPrice
	Lot            SymbolFilterLot
	MinNotional    decimal.Decimal
}

// NowMillis truncates a time.Time to unix milliseconds, the resolution every
// timestamp in this system is expressed in.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
