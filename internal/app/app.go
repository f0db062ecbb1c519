// Package app provides the top-level application lifecycle: it wires stores,
// caches, the broker gateway, and notifications together, builds one
// execution cycle per configured strategy, and runs the scheduler until
// shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/stratexec/internal/config"
	"github.com/alanyoungcy/stratexec/internal/engine"
	"github.com/alanyoungcy/stratexec/internal/executor"
	"github.com/alanyoungcy/stratexec/internal/ledger"
	"github.com/alanyoungcy/stratexec/internal/risk"
	"github.com/alanyoungcy/stratexec/internal/tracker"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, reconciles against the venue, starts the
// strategy cycles, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting execution engine",
		slog.String("mode", a.cfg.Mode),
		slog.Int("strategies", len(a.cfg.Strategies)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	led := ledger.New(deps.ProcessedSignals, a.logger)
	if err := led.WarmUp(ctx, a.cfg.Engine.LedgerRetention.Duration); err != nil {
		return fmt.Errorf("app: ledger warm up: %w", err)
	}

	resolver := risk.NewResolver(a.cfg.Risk, a.logger)

	orch := executor.New(
		deps.Gateway, deps.Orders, deps.LockManager, deps.RateLimiter,
		deps.PositionCache, deps.Audit, deps.Notifier,
		executor.Config{
			LockTTL:         a.cfg.Engine.SubmitLockTTL.Duration,
			OrdersPerSecond: a.cfg.Broker.OrdersPerSecond,
		},
		a.logger,
	)

	trk := tracker.New(
		deps.Gateway, deps.Orders, deps.Trades, led,
		deps.PositionCache, deps.Notifier,
		a.cfg.Engine.OrderWindow.Duration, a.logger,
	)

	// Reconcile before any cycle runs: a restarted process must recognise its
	// own live orders before it looks at a single signal.
	if err := trk.Reconcile(ctx); err != nil {
		return fmt.Errorf("app: startup reconciliation: %w", err)
	}

	cycles := make([]*engine.Cycle, 0, len(a.cfg.Strategies))
	for _, sc := range a.cfg.Strategies {
		cycles = append(cycles, engine.NewCycle(
			sc, resolver, deps.Gateway, deps.SignalQueue, deps.Orders,
			led, orch, trk, deps.PositionCache, deps.Audit, deps.Notifier,
			a.cfg.Engine.TrackEveryTicks, a.logger,
		))
	}

	sched := engine.NewScheduler(cycles, led, deps.Trades, deps.Archiver, a.cfg.Engine, a.logger)
	return sched.Run(ctx)
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
