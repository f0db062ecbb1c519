package domain

import "time"

// Position is the current holding for a symbol as reported by the broker.
// Qty is signed: positive = long, negative = short. The engine reads
// positions but never writes them.
type Position struct {
	Symbol        string
	Qty           int64
	AvgPrice      float64
	MarketValue   float64
	UnrealizedPnL float64
	UpdatedAt     time.Time
}

// Long reports whether the position is net long.
func (p Position) Long() bool { return p.Qty > 0 }

// Short reports whether the position is net short.
func (p Position) Short() bool { return p.Qty < 0 }

// Flat reports whether there is no exposure.
func (p Position) Flat() bool { return p.Qty == 0 }

// AbsQty returns the unsigned quantity.
func (p Position) AbsQty() int64 {
	if p.Qty < 0 {
		return -p.Qty
	}
	return p.Qty
}

// Account is a snapshot of the trading account's financial state. DayPnL is
// the equity change since the previous close, realized plus unrealized;
// negative = loss. Risk checks that key off it are deliberately conservative.
type Account struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
	DayPnL      float64
}
