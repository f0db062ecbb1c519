// Package broker defines the narrow gateway interface the engine uses to talk
// to an order-execution venue, plus the error taxonomy for classifying
// failures as transient or permanent.
package broker

import (
	"context"
	"time"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// BracketSpec attaches OCO take-profit and stop-loss exits to an entry. The
// venue guarantees at most one of the pair fills; the other is cancelled.
type BracketSpec struct {
	TakeProfitPrice float64
	StopLossPrice   float64
}

// LegSpec is one leg of an atomic multi-leg spread order.
type LegSpec struct {
	Symbol string
	Side   domain.OrderSide
	Ratio  int64
	Price  float64
}

// OrderSpec is a venue-agnostic order submission request. ClientOrderID is
// caller-assigned and must be unique; the venue echoes it back on status
// records so a restarted process can recognise its own orders.
type OrderSpec struct {
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Qty           int64
	Type          OrderType
	LimitPrice    float64
	StopPrice     float64
	TimeInForce   string // "day" or "gtc"
	Bracket       *BracketSpec
	Legs          []LegSpec
}

// Ack is the venue's acknowledgment of a submitted order.
type Ack struct {
	OrderID       string
	ClientOrderID string
	Status        domain.OrderStatus
	AcceptedAt    time.Time
}

// StatusRecord is one order's state as reported by the venue. RawStatus keeps
// the venue's native status string for audit; Status is the coalesced
// lifecycle state. Side and LimitPrice let callers act on venue-held orders
// that never had a local record, such as bracket children.
type StatusRecord struct {
	OrderID        string
	ClientOrderID  string
	Symbol         string
	Side           domain.OrderSide
	Status         domain.OrderStatus
	RawStatus      string
	FilledQty      int64
	FilledAvgPrice float64
	LimitPrice     float64
	Reason         string
	CreatedAt      time.Time
	FilledAt       *time.Time
}

// ListOrdersFilter scopes a bulk order status query.
type ListOrdersFilter struct {
	Since    time.Time
	Until    time.Time
	OpenOnly bool
	Symbols  []string
}

// Gateway is the engine's view of an execution venue. Implementations must be
// safe for concurrent use. Position and account reads return fresh venue
// state, never cached data.
type Gateway interface {
	SubmitOrder(ctx context.Context, spec OrderSpec) (Ack, error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, filter ListOrdersFilter) ([]StatusRecord, error)
	GetPositions(ctx context.Context) (map[string]domain.Position, error)
	GetAccount(ctx context.Context) (domain.Account, error)
}
