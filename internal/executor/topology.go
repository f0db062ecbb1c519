package executor

import (
	"github.com/alanyoungcy/stratexec/internal/domain"
)

// SelectTopology chooses the order shape for a signal against the current
// position in its symbol. The decision is pure and deterministic:
//
//   - legs present                          -> atomic multi-leg spread
//   - scale-in flag with a live same-side
//     position                              -> scale-in with resized exit
//   - both stop and target prices known     -> bracket (OCO exits)
//   - otherwise                             -> plain order
//
// A scale-in signal against a flat symbol degrades to a normal entry: there
// is nothing to average into.
func SelectTopology(sig domain.Signal, pos domain.Position) domain.OrderTopology {
	if len(sig.Legs) > 0 {
		return domain.TopologySpread
	}
	if sig.ScaleIn && !pos.Flat() && sameSide(sig, pos) {
		return domain.TopologyScaleIn
	}
	if sig.StopPrice > 0 && sig.TargetPrice > 0 {
		return domain.TopologyBracket
	}
	return domain.TopologyPlain
}

// sameSide reports whether the position's exposure matches the signal's
// direction.
func sameSide(sig domain.Signal, pos domain.Position) bool {
	if sig.Direction == domain.DirectionShort {
		return pos.Short()
	}
	return pos.Long()
}

// WouldBox reports whether opening in the signal's direction against the
// given position would create simultaneous long and short exposure in one
// symbol. Boxed positions pay double fees for zero net exposure; submission
// rejects them outright.
func WouldBox(sig domain.Signal, pos domain.Position) bool {
	if pos.Flat() {
		return false
	}
	return !sameSide(sig, pos)
}
