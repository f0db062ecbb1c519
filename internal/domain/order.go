package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderTopology is the shape chosen for a submission: a bare order, an entry
// with paired OCO exits, an incremental scale-in with a resized exit, or an
// atomic multi-leg spread.
type OrderTopology string

const (
	TopologyPlain   OrderTopology = "plain"
	TopologyBracket OrderTopology = "bracket"
	TopologyScaleIn OrderTopology = "scale_in"
	TopologySpread  OrderTopology = "spread"
)

// OrderRole identifies what an individual order does within its topology.
type OrderRole string

const (
	RoleEntry      OrderRole = "entry"
	RoleTakeProfit OrderRole = "take_profit"
	RoleStopLoss   OrderRole = "stop_loss"
	RoleSpreadUnit OrderRole = "spread_unit"
)

// OrderStatus tracks the order lifecycle. PENDING is internal-only (the
// broker has not acknowledged yet); SUBMITTED coalesces every broker-side
// "still live" status. The four remaining states are terminal.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusFailed    OrderStatus = "failed"
)

// Terminal reports whether the status is final. Terminal orders are immutable.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// Order is a unit of work submitted to the broker. ClientOrderID is assigned
// before submission and encodes the signal fingerprint so a restarted process
// can recognise its own orders at the broker; BrokerOrderID is assigned by the
// broker on acknowledgment.
type Order struct {
	ClientOrderID string
	BrokerOrderID string
	StrategyID    string
	Symbol        string
	Side          OrderSide
	Qty           int64
	LimitPrice    float64 // 0 = market
	StopPrice     float64
	Topology      OrderTopology
	Role          OrderRole
	Status        OrderStatus
	Fingerprint   string
	Reason        string // broker reject reason, when status is rejected/failed
	FilledQty     int64
	FilledPrice   float64
	CreatedAt     time.Time
	SubmittedAt   *time.Time
	FilledAt      *time.Time
	ClosedAt      *time.Time
}

// Active reports whether the order still needs lifecycle tracking.
func (o Order) Active() bool {
	return !o.Status.Terminal()
}

// WarningSeverity ranks submission warnings. Critical warnings indicate a
// live position left without a protective exit and must never be swallowed.
type WarningSeverity string

const (
	SeverityInfo     WarningSeverity = "info"
	SeverityWarn     WarningSeverity = "warn"
	SeverityCritical WarningSeverity = "critical"
)

// Warning describes a non-fatal problem raised during order submission.
type Warning struct {
	Severity WarningSeverity
	Code     string
	Message  string
}

// OrderSubmissionResult is the outcome of one orchestrated submission.
type OrderSubmissionResult struct {
	Topology OrderTopology
	Orders   []Order
	Warnings []Warning
}

// Critical returns the critical warnings, if any.
func (r OrderSubmissionResult) Critical() []Warning {
	var out []Warning
	for _, w := range r.Warnings {
		if w.Severity == SeverityCritical {
			out = append(out, w)
		}
	}
	return out
}
