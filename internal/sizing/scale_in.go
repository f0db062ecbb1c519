package sizing

import (
	"errors"
	"math"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

var (
	// ErrNoScaleInNeeded means the existing average is already within
	// tolerance of the market price; no trade is warranted.
	ErrNoScaleInNeeded = errors.New("average already within tolerance")

	// ErrScaleInWorsens means the price has moved in the position's favour;
	// adding here would worsen average cost, which scale-in never does.
	ErrScaleInWorsens = errors.New("scale-in would worsen average cost")
)

// ScaleInInput describes an existing position and the averaging target.
type ScaleInInput struct {
	Position     domain.Position
	Price        float64 // current market price
	TolerancePct float64 // ε as a fraction of Price, e.g. 0.0002 for 0.02%
	Caps         Input   // the same caps as new-position sizing, applied to total qty
}

// ForScaleIn computes the minimal additional quantity that moves the
// position's weighted average price to within ε of the current price.
// Averaging only ever improves cost: down for longs, up for shorts.
func ForScaleIn(in ScaleInInput) (Result, error) {
	pos := in.Position
	if pos.Flat() || in.Price <= 0 {
		return Result{}, ErrNoScaleInNeeded
	}

	eps := in.TolerancePct * in.Price
	if eps <= 0 {
		eps = 0.0002 * in.Price
	}

	diff := pos.AvgPrice - in.Price
	if math.Abs(diff) <= eps {
		return Result{}, ErrNoScaleInNeeded
	}

	// Longs may only average down, shorts only up. Anything else means the
	// market moved in our favour and there is nothing to repair.
	if (pos.Long() && diff < 0) || (pos.Short() && diff > 0) {
		return Result{}, ErrScaleInWorsens
	}

	// Target the edge of the tolerance band nearest the current average so q
	// is minimal: P+ε when averaging down, P-ε when averaging up.
	targetAvg := in.Price + eps
	if pos.Short() {
		targetAvg = in.Price - eps
	}

	qty := float64(pos.AbsQty())
	q := qty * math.Abs(pos.AvgPrice-targetAvg) / math.Abs(targetAvg-in.Price)
	add := int64(math.Round(q))
	if add < 1 {
		add = 1
	}

	// The combined position must still respect the new-position caps.
	caps := in.Caps
	caps.Price = in.Price
	if caps.Limits.FailClosed() {
		return Result{Shares: 0, Binding: ConstraintFailClosed}, nil
	}
	maxTotal, capName := maxTotalShares(caps)
	binding := ConstraintBase
	if total := pos.AbsQty() + add; total > maxTotal {
		add = maxTotal - pos.AbsQty()
		binding = capName
	}
	if add < 1 {
		return Result{Shares: 0, Binding: binding}, nil
	}

	return Result{
		Shares:        add,
		Binding:       binding,
		PositionValue: float64(add) * in.Price,
	}, nil
}

// BlendedAverage returns the weighted average price after adding qty shares
// at price to the existing position. Helper for tests and exit re-pricing.
func BlendedAverage(pos domain.Position, addQty int64, price float64) float64 {
	total := pos.AbsQty() + addQty
	if total == 0 {
		return 0
	}
	return (float64(pos.AbsQty())*pos.AvgPrice + float64(addQty)*price) / float64(total)
}
