package domain

import "time"

// ProcessedSignalRecord is a persisted idempotency ledger entry. One record is
// appended per successfully submitted signal and pruned after the retention
// window.
type ProcessedSignalRecord struct {
	Fingerprint string
	StrategyID  string
	Symbol      string
	Side        OrderSide
	Qty         int64
	Price       float64
	BarIndex    int64
	ScaleIn     bool
	ProcessedAt time.Time
}

// CompletedTrade is an order that reached a terminal state, moved out of the
// active set by the lifecycle tracker.
type CompletedTrade struct {
	ClientOrderID string
	BrokerOrderID string
	StrategyID    string
	Symbol        string
	Side          OrderSide
	Qty           int64
	FilledQty     int64
	FilledPrice   float64
	Status        OrderStatus
	Topology      OrderTopology
	Role          OrderRole
	Reason        string
	CreatedAt     time.Time
	ClosedAt      time.Time
}
