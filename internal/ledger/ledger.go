// Package ledger implements the idempotency ledger: a persisted set of
// already-executed signal fingerprints that survives process restart and is
// pruned by age.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// Ledger fronts a durable ProcessedSignalStore with an in-memory mirror so
// the hot-path duplicate check does not hit the database on every signal.
// Writes go to the store synchronously before the mirror is updated: a record
// is only considered processed once it is durable.
type Ledger struct {
	store  domain.ProcessedSignalStore
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time // fingerprint -> processedAt
}

// New creates a Ledger over the given store.
func New(store domain.ProcessedSignalStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "ledger")),
		seen:   make(map[string]time.Time),
	}
}

// WarmUp loads records newer than the retention window into the in-memory
// mirror. Called once on startup so dedup holds across restarts.
func (l *Ledger) WarmUp(ctx context.Context, retention time.Duration) error {
	since := time.Now().UTC().Add(-retention)
	recs, err := l.store.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("ledger: warm up: %w", err)
	}

	l.mu.Lock()
	for _, rec := range recs {
		l.seen[rec.Fingerprint] = rec.ProcessedAt
	}
	n := len(l.seen)
	l.mu.Unlock()

	l.logger.Info("ledger warmed up", slog.Int("records", n))
	return nil
}

// HasProcessed reports whether the fingerprint has already been executed. A
// mirror hit short-circuits; a miss falls through to the store so multiple
// processes sharing one ledger stay consistent.
func (l *Ledger) HasProcessed(ctx context.Context, fingerprint string) (bool, error) {
	l.mu.Lock()
	_, ok := l.seen[fingerprint]
	l.mu.Unlock()
	if ok {
		return true, nil
	}

	has, err := l.store.Has(ctx, fingerprint)
	if err != nil {
		return false, fmt.Errorf("ledger: has %s: %w", fingerprint, err)
	}
	if has {
		l.mu.Lock()
		l.seen[fingerprint] = time.Now().UTC()
		l.mu.Unlock()
	}
	return has, nil
}

// Record durably appends a processed-signal record. The in-memory mirror is
// only updated after the store write succeeds; a failed write leaves the
// fingerprint unrecorded so the next cycle retries.
func (l *Ledger) Record(ctx context.Context, rec domain.ProcessedSignalRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	if err := l.store.Record(ctx, rec); err != nil {
		return fmt.Errorf("ledger: record %s: %w", rec.Fingerprint, err)
	}

	l.mu.Lock()
	l.seen[rec.Fingerprint] = rec.ProcessedAt
	l.mu.Unlock()
	return nil
}

// PruneOlderThan removes records older than the retention window from both
// the store and the mirror. Returns the number of store rows removed.
func (l *Ledger) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	n, err := l.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger: prune: %w", err)
	}

	l.mu.Lock()
	for fp, ts := range l.seen {
		if ts.Before(cutoff) {
			delete(l.seen, fp)
		}
	}
	l.mu.Unlock()

	if n > 0 {
		l.logger.Debug("ledger pruned", slog.Int64("removed", n))
	}
	return n, nil
}
