package domain

import "time"

// Direction is the side of the market a signal wants exposure on.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Signal is a trade recommendation produced by an external strategy process.
// The engine treats signals as read-only input; it never mutates or
// re-publishes them.
type Signal struct {
	ID          string
	StrategyID  string
	Symbol      string
	Direction   Direction
	Confidence  float64
	Qty         int64   // suggested quantity; 0 lets the sizing calculator decide
	Price       float64 // reference entry price at signal time
	StopPrice   float64 // 0 = no computable stop
	TargetPrice float64 // 0 = no computable profit target
	ScaleIn     bool    // add to an existing position rather than open a new one
	AutoApprove bool
	Legs        []SpreadLeg // non-empty = multi-leg spread signal
	Metadata    map[string]string
	CreatedAt   time.Time
}

// SpreadLeg is one leg of a multi-leg spread signal. All legs of a signal are
// submitted to the broker as a single atomic order.
type SpreadLeg struct {
	Symbol string
	Side   OrderSide
	Ratio  int64 // quantity ratio relative to the spread unit
	Price  float64
}

// Side maps the signal direction to the order side that opens the position.
func (s Signal) Side() OrderSide {
	if s.Direction == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Age returns how old the signal is relative to now.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
