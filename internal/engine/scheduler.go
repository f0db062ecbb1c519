package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stratexec/internal/config"
	"github.com/alanyoungcy/stratexec/internal/domain"
	"github.com/alanyoungcy/stratexec/internal/ledger"
)

// Scheduler fans out one goroutine per strategy cycle plus a housekeeping
// loop, and tears everything down together when the context is cancelled or
// any component fails.
type Scheduler struct {
	cycles   []*Cycle
	ledger   *ledger.Ledger
	trades   domain.CompletedTradeStore
	archiver domain.Archiver // nil = archival disabled
	cfg      config.EngineConfig
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler over the given cycles. archiver may be nil
// when cold storage is disabled; pruning then discards aged records outright.
func NewScheduler(
	cycles []*Cycle,
	led *ledger.Ledger,
	trades domain.CompletedTradeStore,
	archiver domain.Archiver,
	cfg config.EngineConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cycles:   cycles,
		ledger:   led,
		trades:   trades,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run blocks until the context is cancelled or a cycle returns an error other
// than context cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, c := range s.cycles {
		g.Go(func() error { return c.Run(ctx) })
	}
	g.Go(func() error { return s.housekeeping(ctx) })

	s.logger.Info("scheduler running", slog.Int("cycles", len(s.cycles)))
	return g.Wait()
}

// housekeeping archives and prunes aged records on a slow ticker. Archival
// failures block pruning for that pass: records are never discarded before
// they are safely in cold storage.
func (s *Scheduler) housekeeping(ctx context.Context) error {
	interval := s.cfg.PruneInterval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	now := time.Now().UTC()
	tradeCutoff := now.Add(-s.cfg.TradeRetention.Duration)
	ledgerCutoff := s.cfg.LedgerRetention.Duration

	if s.archiver != nil {
		if n, err := s.archiver.ArchiveTrades(ctx, tradeCutoff); err != nil {
			s.logger.Error("trade archival failed, skipping prune", slog.String("error", err.Error()))
			return
		} else if n > 0 {
			s.logger.Info("trades archived", slog.Int64("count", n))
		}
		if _, err := s.archiver.ArchiveProcessedSignals(ctx, now.Add(-ledgerCutoff)); err != nil {
			s.logger.Error("ledger archival failed, skipping prune", slog.String("error", err.Error()))
			return
		}
	}

	if _, err := s.ledger.PruneOlderThan(ctx, ledgerCutoff); err != nil {
		s.logger.Error("ledger prune failed", slog.String("error", err.Error()))
	}
	if n, err := s.trades.DeleteOlderThan(ctx, tradeCutoff); err != nil {
		s.logger.Error("trade prune failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Debug("trades pruned", slog.Int64("removed", n))
	}
}
