package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

func enabled(v float64) domain.Limit  { return domain.Limit{Value: v, Enabled: true} }
func disabled(v float64) domain.Limit { return domain.Limit{Value: v, Enabled: false} }

func baseInput() Input {
	return Input{
		Equity:         100_000,
		AvailableFunds: 100_000,
		Price:          50,
		RiskPerShare:   10,
		Limits: domain.RiskLimits{
			StrategyAllocationPct: enabled(0.30),
			PositionSizePct:       enabled(0.10),
		},
	}
}

func TestForNewPositionBaseBudget(t *testing.T) {
	// 100k * 30% * 10% = $3000 budget at $50/share.
	res := ForNewPosition(baseInput())

	assert.Equal(t, int64(60), res.Shares)
	assert.Equal(t, ConstraintBase, res.Binding)
	assert.InDelta(t, 3000.0, res.PositionValue, 0.01)
}

func TestForNewPositionDailyLossCapsSize(t *testing.T) {
	in := baseInput()
	in.Limits.DailyLossLimit = enabled(500)
	in.DayPnL = -200 // $300 of loss budget left at $10 risk/share

	res := ForNewPosition(in)

	assert.Equal(t, int64(30), res.Shares)
	assert.Equal(t, ConstraintDailyLoss, res.Binding)
}

func TestForNewPositionDisabledLimitIsUnconstrained(t *testing.T) {
	// A disabled limit with value zero must mean "no cap", never "zero shares".
	in := baseInput()
	in.Limits.MaxShares = disabled(0)
	in.Limits.DailyLossLimit = disabled(0)

	res := ForNewPosition(in)

	assert.Equal(t, int64(60), res.Shares)
	assert.Equal(t, ConstraintBase, res.Binding)
}

func TestForNewPositionMaxSharesBinds(t *testing.T) {
	in := baseInput()
	in.Limits.MaxShares = enabled(25)

	res := ForNewPosition(in)

	assert.Equal(t, int64(25), res.Shares)
	assert.Equal(t, ConstraintMaxShares, res.Binding)
}

func TestForNewPositionAccountRiskBinds(t *testing.T) {
	in := baseInput()
	in.Limits.MaxAccountRiskPct = enabled(0.02) // $2000 of risk budget
	in.OpenRiskUSD = 1800                       // $200 left at $10/share

	res := ForNewPosition(in)

	assert.Equal(t, int64(20), res.Shares)
	assert.Equal(t, ConstraintAccountRisk, res.Binding)
}

func TestForNewPositionStrategyAllocationConsumed(t *testing.T) {
	in := baseInput()
	in.OpenPositionsValue = 29_000 // $1000 of the $30k allocation left

	res := ForNewPosition(in)

	assert.Equal(t, int64(20), res.Shares)
	assert.Equal(t, ConstraintStrategyAllocation, res.Binding)
}

func TestForNewPositionAvailableFundsWithBuffer(t *testing.T) {
	in := baseInput()
	in.AvailableFunds = 1000
	in.Limits.EquityBuffer = enabled(500) // $500 usable

	res := ForNewPosition(in)

	assert.Equal(t, int64(10), res.Shares)
	assert.Equal(t, ConstraintAvailableFunds, res.Binding)
}

func TestForNewPositionFailClosed(t *testing.T) {
	in := baseInput()
	in.Limits = domain.FailClosedLimits()

	res := ForNewPosition(in)

	assert.Equal(t, int64(0), res.Shares)
	assert.Equal(t, ConstraintFailClosed, res.Binding)
}

func TestForNewPositionNoBudget(t *testing.T) {
	in := baseInput()
	in.Price = 0

	res := ForNewPosition(in)
	assert.Equal(t, int64(0), res.Shares)
	assert.Equal(t, ConstraintNoBudget, res.Binding)

	in = baseInput()
	in.Equity = 0
	res = ForNewPosition(in)
	assert.Equal(t, int64(0), res.Shares)
}

func TestForNewPositionExhaustedBudgetYieldsZero(t *testing.T) {
	in := baseInput()
	in.Limits.DailyLossLimit = enabled(500)
	in.DayPnL = -500 // fully consumed

	res := ForNewPosition(in)

	require.Equal(t, int64(0), res.Shares)
	assert.Equal(t, ConstraintDailyLoss, res.Binding)
	assert.Zero(t, res.PositionValue)
}

func TestFlooredDiv(t *testing.T) {
	assert.Equal(t, int64(3), flooredDiv(35, 10))
	assert.Equal(t, int64(0), flooredDiv(-5, 10))
	assert.Equal(t, int64(0), flooredDiv(10, 0))
}
