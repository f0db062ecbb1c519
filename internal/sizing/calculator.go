// Package sizing provides the pure position-sizing math: new-position sizing
// under the enabled risk limits, and scale-in share averaging.
package sizing

import (
	"math"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// Constraint names the check that bounded a sizing result. The binding
// (most restrictive) constraint is always reported for observability.
type Constraint string

const (
	ConstraintBase               Constraint = "base_calculation"
	ConstraintMaxShares          Constraint = "max_shares"
	ConstraintDailyLoss          Constraint = "daily_loss_limit"
	ConstraintAccountRisk        Constraint = "account_risk_limit"
	ConstraintStrategyAllocation Constraint = "strategy_allocation"
	ConstraintAvailableFunds     Constraint = "available_funds"
	ConstraintFailClosed         Constraint = "fail_closed"
	ConstraintNoBudget           Constraint = "no_budget"
)

// Input carries everything the calculator needs. It is assembled by the
// execution cycle from the account snapshot, the position provider, and the
// resolved risk limits.
type Input struct {
	Equity             float64
	AvailableFunds     float64
	Price              float64
	RiskPerShare       float64 // |entry - stop|; 0 when the stop is unknown
	DayPnL             float64 // negative = loss so far today
	OpenRiskUSD        float64 // dollars already at risk across open positions
	OpenPositionsValue float64 // market value of all open positions, account-wide
	Limits             domain.RiskLimits
}

// Result is a sizing decision plus the constraint that bound it.
type Result struct {
	Shares        int64
	Binding       Constraint
	PositionValue float64
}

// ForNewPosition computes the share count for a fresh entry. Every enabled
// limit contributes a cap; the minimum wins and is reported as the binding
// constraint. Disabled limits are treated as unconstrained, never as zero.
func ForNewPosition(in Input) Result {
	if in.Limits.FailClosed() {
		return Result{Shares: 0, Binding: ConstraintFailClosed}
	}
	if in.Price <= 0 || in.Equity <= 0 {
		return Result{Shares: 0, Binding: ConstraintNoBudget}
	}

	allocPct := 1.0
	if in.Limits.StrategyAllocationPct.Bounded() {
		allocPct = in.Limits.StrategyAllocationPct.Value
	}
	posPct := 1.0
	if in.Limits.PositionSizePct.Bounded() {
		posPct = in.Limits.PositionSizePct.Value
	}

	positionValue := in.Equity * allocPct * posPct
	shares := int64(math.Floor(positionValue / in.Price))
	binding := ConstraintBase

	for _, c := range capSet(in) {
		if c.max < shares {
			shares = c.max
			binding = c.name
		}
	}

	if shares < 1 {
		return Result{Shares: 0, Binding: binding}
	}
	return Result{
		Shares:        shares,
		Binding:       binding,
		PositionValue: float64(shares) * in.Price,
	}
}

type shareCap struct {
	name Constraint
	max  int64
}

// capSet enumerates the enabled hard caps, expressed as a maximum total share
// count. The base budget calculation is not a cap: scale-ins may exceed it.
func capSet(in Input) []shareCap {
	var caps []shareCap

	if in.Limits.MaxShares.Bounded() {
		caps = append(caps, shareCap{ConstraintMaxShares, int64(in.Limits.MaxShares.Value)})
	}

	if in.Limits.DailyLossLimit.Bounded() && in.RiskPerShare > 0 {
		remaining := in.Limits.DailyLossLimit.Value + math.Min(in.DayPnL, 0)
		caps = append(caps, shareCap{ConstraintDailyLoss, flooredDiv(remaining, in.RiskPerShare)})
	}

	if in.Limits.MaxAccountRiskPct.Bounded() && in.RiskPerShare > 0 {
		remaining := in.Equity*in.Limits.MaxAccountRiskPct.Value - in.OpenRiskUSD
		caps = append(caps, shareCap{ConstraintAccountRisk, flooredDiv(remaining, in.RiskPerShare)})
	}

	if in.Limits.StrategyAllocationPct.Bounded() {
		remaining := in.Equity*in.Limits.StrategyAllocationPct.Value - in.OpenPositionsValue
		caps = append(caps, shareCap{ConstraintStrategyAllocation, flooredDiv(remaining, in.Price)})
	}

	funds := in.AvailableFunds
	if in.Limits.EquityBuffer.Bounded() {
		funds -= in.Limits.EquityBuffer.Value
	}
	caps = append(caps, shareCap{ConstraintAvailableFunds, flooredDiv(funds, in.Price)})

	return caps
}

// maxTotalShares returns the tightest enabled cap on total position size,
// used by scale-in sizing where currentQty+q must respect the same limits.
func maxTotalShares(in Input) (int64, Constraint) {
	max := int64(math.MaxInt64)
	binding := ConstraintBase
	for _, c := range capSet(in) {
		if c.max < max {
			max = c.max
			binding = c.name
		}
	}
	return max, binding
}

// flooredDiv is floor(a/b) clamped at zero for non-positive budgets.
func flooredDiv(a, b float64) int64 {
	if b <= 0 || a <= 0 {
		return 0
	}
	return int64(math.Floor(a / b))
}
