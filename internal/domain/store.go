package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ProcessedSignalStore persists the idempotency ledger. Record must be
// durable before it returns; an un-flushed record is a double-submission risk
// on crash.
type ProcessedSignalStore interface {
	Has(ctx context.Context, fingerprint string) (bool, error)
	Record(ctx context.Context, rec ProcessedSignalRecord) error
	ListSince(ctx context.Context, since time.Time) ([]ProcessedSignalRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]ProcessedSignalRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OrderStore persists orders through their lifecycle.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	Update(ctx context.Context, o Order) error
	GetByClientID(ctx context.Context, clientOrderID string) (Order, error)
	ListActive(ctx context.Context) ([]Order, error)
}

// CompletedTradeStore persists the completed-trades log.
type CompletedTradeStore interface {
	Insert(ctx context.Context, t CompletedTrade) error
	ListRecent(ctx context.Context, limit int) ([]CompletedTrade, error)
	ListBefore(ctx context.Context, before time.Time) ([]CompletedTrade, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore persists an append-only audit log of engine decisions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// PositionCache is a read-through snapshot of broker positions shared between
// strategy cycles. Invalidate forces the next read to hit the broker.
type PositionCache interface {
	Set(ctx context.Context, positions map[string]Position) error
	Get(ctx context.Context) (map[string]Position, time.Time, error)
	Invalidate(ctx context.Context) error
}

// LockManager provides a distributed lock used to serialize order submission
// per symbol across all strategy cycles.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles broker API calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalQueue is the engine's view of the signal source. Strategy processes
// push; the execution cycle drains its strategy's queue each tick. No
// ordering guarantee; stale or already-handled signals may be returned.
type SignalQueue interface {
	Push(ctx context.Context, sig Signal) error
	PopAll(ctx context.Context, strategyID string) ([]Signal, error)
}

// Archiver moves aged records to cold storage before they are pruned from the
// primary store.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveProcessedSignals(ctx context.Context, before time.Time) (int64, error)
}
