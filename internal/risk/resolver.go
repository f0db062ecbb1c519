// Package risk resolves per-strategy risk limits from configuration and
// provides the pre-trade gates that run before any sizing or submission.
// Resolution is fail-closed: if limits cannot be resolved or look invalid,
// every gate denies new trades rather than allowing unconstrained ones.
package risk

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stratexec/internal/config"
	"github.com/alanyoungcy/stratexec/internal/domain"
)

// Resolver produces immutable RiskLimits snapshots from configuration. The
// engine resolves once per execution cycle so every signal inside a cycle is
// judged against the same limits.
type Resolver struct {
	cfg    config.RiskConfig
	logger *slog.Logger
}

// NewResolver creates a Resolver over the loaded risk configuration.
func NewResolver(cfg config.RiskConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk")),
	}
}

// Resolve returns the risk limits for a strategy. A per-strategy section
// replaces the account defaults wholesale; otherwise the defaults apply. Any
// invalid limit set resolves to fail-closed limits, never to zero values.
func (r *Resolver) Resolve(strategyID string) domain.RiskLimits {
	src := r.cfg.Defaults
	scope := "defaults"
	if s, ok := r.cfg.Strategy[strategyID]; ok {
		src = s
		scope = strategyID
	}

	limits, err := toLimits(src)
	if err != nil {
		r.logger.Error("risk limits invalid, failing closed",
			slog.String("strategy", strategyID),
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
		return domain.FailClosedLimits()
	}
	return limits
}

// toLimits converts a config limit set into the domain snapshot, rejecting
// values that would make a gate meaningless.
func toLimits(src config.RiskLimitsConfig) (domain.RiskLimits, error) {
	for name, lc := range map[string]config.LimitConfig{
		"strategy_allocation_pct": src.StrategyAllocationPct,
		"position_size_pct":       src.PositionSizePct,
		"max_account_risk_pct":    src.MaxAccountRiskPct,
	} {
		if lc.Enabled && (lc.Value <= 0 || lc.Value > 1) {
			return domain.RiskLimits{}, fmt.Errorf("risk: %s out of range: %v", name, lc.Value)
		}
	}
	for name, lc := range map[string]config.LimitConfig{
		"max_shares":       src.MaxShares,
		"max_positions":    src.MaxPositions,
		"daily_loss_limit": src.DailyLossLimit,
		"equity_buffer":    src.EquityBuffer,
	} {
		if lc.Enabled && lc.Value < 0 {
			return domain.RiskLimits{}, fmt.Errorf("risk: %s negative: %v", name, lc.Value)
		}
	}

	return domain.RiskLimits{
		StrategyAllocationPct: limit(src.StrategyAllocationPct),
		PositionSizePct:       limit(src.PositionSizePct),
		MaxShares:             limit(src.MaxShares),
		MaxPositions:          limit(src.MaxPositions),
		DailyLossLimit:        limit(src.DailyLossLimit),
		MaxAccountRiskPct:     limit(src.MaxAccountRiskPct),
		EquityBuffer:          limit(src.EquityBuffer),
		MaxSignalAge:          src.MaxSignalAge.Duration,
	}, nil
}

func limit(lc config.LimitConfig) domain.Limit {
	return domain.Limit{Value: lc.Value, Enabled: lc.Enabled}
}

// CheckSignal runs the cheap structural gates on a signal before any broker
// or sizing work: validity, freshness, and the position-count limit. The
// first failed gate is returned.
func CheckSignal(sig domain.Signal, limits domain.RiskLimits, openPositions int, now time.Time) error {
	if limits.FailClosed() {
		return fmt.Errorf("risk: limits unresolved: %w", domain.ErrRiskRejected)
	}
	if sig.Symbol == "" || sig.StrategyID == "" {
		return fmt.Errorf("risk: missing symbol or strategy: %w", domain.ErrInvalidSignal)
	}
	if sig.Price <= 0 && len(sig.Legs) == 0 {
		return fmt.Errorf("risk: non-positive price %v: %w", sig.Price, domain.ErrInvalidSignal)
	}
	if sig.Direction != domain.DirectionLong && sig.Direction != domain.DirectionShort {
		return fmt.Errorf("risk: unknown direction %q: %w", sig.Direction, domain.ErrInvalidSignal)
	}

	if limits.MaxSignalAge > 0 {
		if age := sig.Age(now); age > limits.MaxSignalAge {
			return fmt.Errorf("risk: signal age %s exceeds %s: %w", age, limits.MaxSignalAge, domain.ErrStaleSignal)
		}
	}

	// Scale-ins add to an existing position and never raise the count.
	if !sig.ScaleIn && limits.MaxPositions.Bounded() {
		if float64(openPositions) >= limits.MaxPositions.Value {
			return fmt.Errorf("risk: max positions reached (%d/%v): %w",
				openPositions, limits.MaxPositions.Value, domain.ErrRiskRejected)
		}
	}

	return nil
}

// DailyLossBreached reports whether day losses have consumed the daily loss
// limit entirely. dayPnL is total day PnL, unrealized included. When breached
// the engine halts new entries for the rest of the session.
func DailyLossBreached(limits domain.RiskLimits, dayPnL float64) bool {
	if limits.FailClosed() {
		return true
	}
	if !limits.DailyLossLimit.Bounded() {
		return false
	}
	return -dayPnL >= limits.DailyLossLimit.Value
}
