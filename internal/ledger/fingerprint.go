package ledger

import (
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// BarSpec describes a strategy's execution-bar arithmetic. Dedup granularity
// is tied to the strategy's own re-evaluation cadence: two signals for the
// same opportunity inside one bar produce the same fingerprint. The session
// open and timezone are strategy-supplied, never hard-coded.
type BarSpec struct {
	SessionOpenHour   int
	SessionOpenMinute int
	Location          *time.Location
	BarLength         time.Duration
	PriceBucket       float64 // price rounding step, e.g. 0.10
}

// DefaultBarSpec is a 5-minute bar on the US equity session.
func DefaultBarSpec() BarSpec {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return BarSpec{
		SessionOpenHour:   9,
		SessionOpenMinute: 30,
		Location:          loc,
		BarLength:         5 * time.Minute,
		PriceBucket:       0.10,
	}
}

// BarIndex returns the zero-based bar number for t, counted from the session
// open on t's trading day. Times before the open yield negative indexes,
// which is fine: the mapping only needs to be deterministic.
func (b BarSpec) BarIndex(t time.Time) int64 {
	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	open := time.Date(local.Year(), local.Month(), local.Day(),
		b.SessionOpenHour, b.SessionOpenMinute, 0, 0, loc)
	barLen := b.BarLength
	if barLen <= 0 {
		barLen = 5 * time.Minute
	}
	return int64(math.Floor(local.Sub(open).Minutes() / barLen.Minutes()))
}

// RoundPrice buckets a price to the bar spec's rounding step so near-duplicate
// signals within one bar collapse to the same fingerprint.
func (b BarSpec) RoundPrice(price float64) float64 {
	step := b.PriceBucket
	if step <= 0 {
		step = 0.01
	}
	return math.Round(price/step) * step
}

// Fingerprint computes the deterministic dedup key for a signal:
// hash(strategy, symbol, rounded price, bar index, scale-in flag).
func Fingerprint(sig domain.Signal, spec BarSpec) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%.4f|%d|%t",
		sig.StrategyID,
		sig.Symbol,
		spec.RoundPrice(sig.Price),
		spec.BarIndex(sig.CreatedAt),
		sig.ScaleIn,
	)
	return fmt.Sprintf("%016x", h.Sum64())
}
