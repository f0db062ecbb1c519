// Package engine runs the periodic execution cycles: one per strategy, each
// draining its signal queue, gating signals through risk and idempotency
// checks, sizing them, and handing them to the orchestrator. A panicking tick
// is recovered and logged; the cycle carries on at the next interval.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"github.com/alanyoungcy/stratexec/internal/broker"
	"github.com/alanyoungcy/stratexec/internal/config"
	"github.com/alanyoungcy/stratexec/internal/domain"
	"github.com/alanyoungcy/stratexec/internal/executor"
	"github.com/alanyoungcy/stratexec/internal/ledger"
	"github.com/alanyoungcy/stratexec/internal/risk"
	"github.com/alanyoungcy/stratexec/internal/sizing"
	"github.com/alanyoungcy/stratexec/internal/tracker"
)

// Notifier delivers operator alerts. Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Cycle is one strategy's execution loop.
type Cycle struct {
	cfg      config.StrategyConfig
	barSpec  ledger.BarSpec
	resolver *risk.Resolver
	gateway  broker.Gateway
	queue    domain.SignalQueue
	orders   domain.OrderStore
	ledger   *ledger.Ledger
	orch     *executor.Orchestrator
	tracker  *tracker.Tracker
	cache    domain.PositionCache
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger

	trackEvery int
	tickCount  int
	halted     bool

	now   func() time.Time
	ticks <-chan time.Time // test hook; nil = real ticker
}

// NewCycle builds a Cycle for one strategy. trackEvery controls how many
// ticks pass between lifecycle polls.
func NewCycle(
	cfg config.StrategyConfig,
	resolver *risk.Resolver,
	gateway broker.Gateway,
	queue domain.SignalQueue,
	orders domain.OrderStore,
	led *ledger.Ledger,
	orch *executor.Orchestrator,
	trk *tracker.Tracker,
	cache domain.PositionCache,
	audit domain.AuditStore,
	notifier Notifier,
	trackEvery int,
	logger *slog.Logger,
) *Cycle {
	if trackEvery < 1 {
		trackEvery = 1
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
	}
	hour, minute := cfg.ParseSessionOpen()
	return &Cycle{
		cfg: cfg,
		barSpec: ledger.BarSpec{
			SessionOpenHour:   hour,
			SessionOpenMinute: minute,
			Location:          loc,
			BarLength:         time.Duration(cfg.BarMinutes) * time.Minute,
			PriceBucket:       cfg.PriceBucket,
		},
		resolver:   resolver,
		gateway:    gateway,
		queue:      queue,
		orders:     orders,
		ledger:     led,
		orch:       orch,
		tracker:    trk,
		cache:      cache,
		audit:      audit,
		notifier:   notifier,
		trackEvery: trackEvery,
		logger:     logger.With(slog.String("component", "cycle"), slog.String("strategy", cfg.ID)),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source and tick channel. Test hook.
func (c *Cycle) SetClock(now func() time.Time, ticks <-chan time.Time) {
	c.now = now
	c.ticks = ticks
}

// Run loops until the context is cancelled. Each tick is wrapped against
// panics so one bad signal batch cannot take the whole engine down.
func (c *Cycle) Run(ctx context.Context) error {
	c.logger.Info("cycle started", slog.Duration("interval", c.cfg.Interval.Duration))
	defer c.logger.Info("cycle stopped")

	ticks := c.ticks
	if ticks == nil {
		ticker := time.NewTicker(c.cfg.Interval.Duration)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			c.safeTick(ctx)
		}
	}
}

// safeTick runs one tick, converting a panic into an error log.
func (c *Cycle) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("tick panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	c.Tick(ctx)
}

// Tick executes one full cycle pass. Exported for tests.
func (c *Cycle) Tick(ctx context.Context) {
	c.tickCount++
	if c.tickCount%c.trackEvery == 0 {
		if err := c.tracker.Poll(ctx); err != nil {
			c.logger.Error("lifecycle poll failed", slog.String("error", err.Error()))
		}
	}

	signals, err := c.queue.PopAll(ctx, c.cfg.ID)
	if err != nil {
		c.logger.Error("signal drain failed", slog.String("error", err.Error()))
		return
	}
	if len(signals) == 0 {
		return
	}

	limits := c.resolver.Resolve(c.cfg.ID)

	account, err := c.gateway.GetAccount(ctx)
	if err != nil {
		// No account snapshot means no basis for sizing: drop this batch
		// rather than trade blind. Signals regenerate next bar.
		c.logger.Error("account snapshot failed, dropping batch",
			slog.Int("signals", len(signals)),
			slog.String("error", err.Error()),
		)
		return
	}

	c.checkKillSwitch(ctx, limits, account)
	if c.halted {
		c.logger.Warn("halted by daily loss limit, dropping signals",
			slog.Int("signals", len(signals)))
		return
	}

	positions, err := c.positionsSnapshot(ctx)
	if err != nil {
		c.logger.Error("position snapshot failed, dropping batch", slog.String("error", err.Error()))
		return
	}

	openRisk := c.openRiskUSD(ctx)

	// Per-symbol error isolation: a failure on one signal never blocks the
	// rest of the batch.
	for _, sig := range signals {
		if err := c.process(ctx, sig, limits, account, positions, openRisk); err != nil {
			c.logger.Error("signal failed",
				slog.String("signal_id", sig.ID),
				slog.String("symbol", sig.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process runs one signal through the gate chain: structural checks,
// idempotency, sizing, submission, and finally the ledger write.
func (c *Cycle) process(
	ctx context.Context,
	sig domain.Signal,
	limits domain.RiskLimits,
	account domain.Account,
	positions map[string]domain.Position,
	openRisk float64,
) error {
	log := c.logger.With(slog.String("signal_id", sig.ID), slog.String("symbol", sig.Symbol))

	if err := risk.CheckSignal(sig, limits, len(positions), c.now()); err != nil {
		if errors.Is(err, domain.ErrStaleSignal) || errors.Is(err, domain.ErrRiskRejected) {
			log.Warn("signal gated", slog.String("reason", err.Error()))
			return nil
		}
		return err
	}

	if c.cfg.RequireAutoApprove && !sig.AutoApprove {
		log.Info("signal requires manual approval, skipping")
		return c.audit.Log(ctx, "manual_approval_required", map[string]any{
			"signal_id": sig.ID,
			"strategy":  sig.StrategyID,
			"symbol":    sig.Symbol,
		})
	}

	fingerprint := ledger.Fingerprint(sig, c.barSpec)
	seen, err := c.ledger.HasProcessed(ctx, fingerprint)
	if err != nil {
		return err
	}
	if seen {
		log.Debug("duplicate signal", slog.String("fingerprint", fingerprint))
		return nil
	}

	qty, err := c.size(sig, limits, account, positions, openRisk, log)
	if err != nil {
		return err
	}
	if qty == 0 {
		return nil
	}

	result, err := c.orch.Submit(ctx, executor.SubmitRequest{
		Signal:      sig,
		Qty:         qty,
		Fingerprint: fingerprint,
	})
	if err != nil {
		if errors.Is(err, domain.ErrBoxedPosition) || errors.Is(err, domain.ErrLockHeld) {
			log.Warn("submission refused", slog.String("reason", err.Error()))
			return nil
		}
		return err
	}

	log.Info("submitted",
		slog.String("topology", string(result.Topology)),
		slog.Int("orders", len(result.Orders)),
		slog.Int64("qty", qty),
	)

	// Ledger write comes after successful submission. If it fails, a restart
	// may double-process this bar; reconciliation against the venue's client
	// order IDs is the backstop.
	return c.ledger.Record(ctx, domain.ProcessedSignalRecord{
		Fingerprint: fingerprint,
		StrategyID:  sig.StrategyID,
		Symbol:      sig.Symbol,
		Side:        sig.Side(),
		Qty:         qty,
		Price:       sig.Price,
		BarIndex:    c.barSpec.BarIndex(sig.CreatedAt),
		ScaleIn:     sig.ScaleIn,
		ProcessedAt: c.now(),
	})
}

// size picks the right calculator for the signal shape and logs the binding
// constraint of the result.
func (c *Cycle) size(
	sig domain.Signal,
	limits domain.RiskLimits,
	account domain.Account,
	positions map[string]domain.Position,
	openRisk float64,
	log *slog.Logger,
) (int64, error) {
	// Spread signals carry their own unit count; per-leg ratios do the rest.
	if len(sig.Legs) > 0 {
		if sig.Qty < 1 {
			return 1, nil
		}
		return sig.Qty, nil
	}

	in := sizing.Input{
		Equity:             account.Equity,
		AvailableFunds:     account.Cash,
		Price:              sig.Price,
		RiskPerShare:       math.Abs(sig.Price - sig.StopPrice),
		DayPnL:             account.DayPnL,
		OpenRiskUSD:        openRisk,
		OpenPositionsValue: openPositionsValue(positions),
		Limits:             limits,
	}
	if sig.StopPrice <= 0 {
		in.RiskPerShare = 0
	}

	pos := positions[sig.Symbol]
	if sig.ScaleIn && !pos.Flat() {
		res, err := sizing.ForScaleIn(sizing.ScaleInInput{
			Position:     pos,
			Price:        sig.Price,
			TolerancePct: c.cfg.ScaleInTolerancePct,
			Caps:         in,
		})
		if errors.Is(err, sizing.ErrNoScaleInNeeded) || errors.Is(err, sizing.ErrScaleInWorsens) {
			log.Info("scale-in skipped", slog.String("reason", err.Error()))
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		log.Info("scale-in sized",
			slog.Int64("add", res.Shares),
			slog.String("binding", string(res.Binding)),
		)
		return res.Shares, nil
	}

	res := sizing.ForNewPosition(in)
	if res.Shares == 0 {
		log.Warn("sized to zero", slog.String("binding", string(res.Binding)))
		return 0, nil
	}
	log.Info("sized",
		slog.Int64("shares", res.Shares),
		slog.String("binding", string(res.Binding)),
		slog.Float64("value", res.PositionValue),
	)
	return res.Shares, nil
}

// checkKillSwitch halts the cycle for the rest of the session once day losses
// consume the daily loss limit. DayPnL includes unrealized moves, so the halt
// can trip on drawdown that never realizes; that bias is deliberate.
func (c *Cycle) checkKillSwitch(ctx context.Context, limits domain.RiskLimits, account domain.Account) {
	if c.halted || !risk.DailyLossBreached(limits, account.DayPnL) {
		return
	}
	c.halted = true
	msg := fmt.Sprintf("strategy %s halted: day PnL %.2f breached loss limit", c.cfg.ID, account.DayPnL)
	c.logger.Error("daily loss limit breached, halting new entries",
		slog.Float64("day_pnl", account.DayPnL))
	if err := c.notifier.Notify(ctx, "daily_loss_halt", "Daily loss halt", msg); err != nil {
		c.logger.Error("halt notify failed", slog.String("error", err.Error()))
	}
	if err := c.audit.Log(ctx, "daily_loss_halt", map[string]any{
		"strategy": c.cfg.ID,
		"day_pnl":  account.DayPnL,
	}); err != nil {
		c.logger.Error("halt audit failed", slog.String("error", err.Error()))
	}
}

// ResetHalt clears the daily-loss halt, e.g. at the next session open.
func (c *Cycle) ResetHalt() { c.halted = false }

// openRiskUSD sums the distance-to-stop exposure of active orders that carry
// a stop price.
func (c *Cycle) openRiskUSD(ctx context.Context) float64 {
	active, err := c.orders.ListActive(ctx)
	if err != nil {
		c.logger.Warn("open risk lookup failed", slog.String("error", err.Error()))
		return 0
	}
	var sum float64
	for _, o := range active {
		if o.StopPrice > 0 && o.LimitPrice > 0 {
			sum += math.Abs(o.LimitPrice-o.StopPrice) * float64(o.Qty)
		}
	}
	return sum
}

// openPositionsValue sums the absolute market value of all open holdings,
// account-wide. The allocation limit is checked against this total rather
// than per-strategy attribution, which overstates each strategy's usage when
// several trade at once; the conservative direction is intended.
func openPositionsValue(positions map[string]domain.Position) float64 {
	var sum float64
	for _, p := range positions {
		sum += math.Abs(p.MarketValue)
	}
	return sum
}

// positionsSnapshot returns the position map for this tick, serving from the
// shared cache when the entry is younger than the cycle interval. This read
// is advisory only: sizing tolerates slight staleness, and the orchestrator
// re-fetches under the symbol lock before anything reaches the venue.
func (c *Cycle) positionsSnapshot(ctx context.Context) (map[string]domain.Position, error) {
	maxAge := c.cfg.Interval.Duration
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	if cached, at, err := c.cache.Get(ctx); err == nil && c.now().Sub(at) <= maxAge {
		return cached, nil
	}

	positions, err := c.gateway.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, positions); err != nil {
		c.logger.Warn("position cache update failed", slog.String("error", err.Error()))
	}
	return positions, nil
}
