package domain

import "time"

// Limit is a single risk parameter with an independent on/off switch.
// A disabled limit means "no constraint", never zero.
type Limit struct {
	Value   float64
	Enabled bool
}

// Bounded reports whether the limit constrains anything.
func (l Limit) Bounded() bool { return l.Enabled }

// RiskLimits is an immutable snapshot of account- and strategy-level risk
// parameters, resolved once per execution cycle. The zero value is NOT safe:
// use FailClosedLimits when the configuration source is unavailable so every
// gate denies new trades instead of allowing unconstrained ones.
type RiskLimits struct {
	StrategyAllocationPct Limit // fraction of equity budgeted to the strategy
	PositionSizePct       Limit // fraction of the strategy budget per position
	MaxShares             Limit
	MaxPositions          Limit
	DailyLossLimit        Limit // dollars of day loss before halting
	MaxAccountRiskPct     Limit // fraction of equity at risk across positions
	EquityBuffer          Limit // dollars of funds held back from sizing
	MaxSignalAge          time.Duration

	failClosed bool
}

// FailClosedLimits returns a limits snapshot where every check denies new
// trades. Used when the risk configuration cannot be resolved.
func FailClosedLimits() RiskLimits {
	return RiskLimits{failClosed: true}
}

// FailClosed reports whether this snapshot was produced by a resolution
// failure and must reject all new trades.
func (l RiskLimits) FailClosed() bool { return l.failClosed }
