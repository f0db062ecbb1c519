package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// SignalQueue implements domain.SignalQueue on a Redis list per strategy.
// Strategy processes RPUSH serialized signals; each execution cycle drains
// its own list at the start of a tick. Delivery is at-least-once: the
// idempotency ledger downstream absorbs duplicates.
type SignalQueue struct {
	rdb *redis.Client
}

// NewSignalQueue creates a SignalQueue backed by the given Client.
func NewSignalQueue(c *Client) *SignalQueue {
	return &SignalQueue{rdb: c.rdb}
}

// Compile-time interface check.
var _ domain.SignalQueue = (*SignalQueue)(nil)

func queueKey(strategyID string) string {
	return "signals:" + strategyID
}

// Push appends a signal to its strategy's queue.
func (q *SignalQueue) Push(ctx context.Context, sig domain.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal %s: %w", sig.ID, err)
	}
	if err := q.rdb.RPush(ctx, queueKey(sig.StrategyID), data).Err(); err != nil {
		return fmt.Errorf("redis: push signal %s: %w", sig.ID, err)
	}
	return nil
}

// PopAll atomically drains the strategy's queue and returns every pending
// signal. Unparseable entries are skipped, not requeued: a malformed signal
// would fail identically on every retry.
func (q *SignalQueue) PopAll(ctx context.Context, strategyID string) ([]domain.Signal, error) {
	key := queueKey(strategyID)

	pipe := q.rdb.TxPipeline()
	itemsCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: drain signals for %s: %w", strategyID, err)
	}

	items := itemsCmd.Val()
	signals := make([]domain.Signal, 0, len(items))
	for _, item := range items {
		var sig domain.Signal
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}
