package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

const (
	positionsKey   = "positions:snapshot"
	positionsTSKey = "positions:snapshot_at"
	positionsTTL   = 5 * time.Minute
)

// PositionCache implements domain.PositionCache: one shared snapshot of
// broker positions so concurrent strategy cycles do not hammer the venue.
// The submission path still refetches under its symbol lock; this cache only
// serves advisory reads.
type PositionCache struct {
	rdb *redis.Client
}

// NewPositionCache creates a PositionCache backed by the given Client.
func NewPositionCache(c *Client) *PositionCache {
	return &PositionCache{rdb: c.rdb}
}

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)

// Set replaces the snapshot and stamps it with the current time.
func (pc *PositionCache) Set(ctx context.Context, positions map[string]domain.Position) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("redis: marshal positions: %w", err)
	}

	pipe := pc.rdb.TxPipeline()
	pipe.Set(ctx, positionsKey, data, positionsTTL)
	pipe.Set(ctx, positionsTSKey, time.Now().UTC().Format(time.RFC3339Nano), positionsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set positions snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot and its timestamp. A missing snapshot returns
// domain.ErrNotFound so the caller falls through to the broker.
func (pc *PositionCache) Get(ctx context.Context) (map[string]domain.Position, time.Time, error) {
	data, err := pc.rdb.Get(ctx, positionsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, domain.ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("redis: get positions snapshot: %w", err)
	}

	var positions map[string]domain.Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: unmarshal positions: %w", err)
	}

	var ts time.Time
	if raw, err := pc.rdb.Get(ctx, positionsTSKey).Result(); err == nil {
		ts, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return positions, ts, nil
}

// Invalidate drops the snapshot so the next read hits the broker.
func (pc *PositionCache) Invalidate(ctx context.Context) error {
	if err := pc.rdb.Del(ctx, positionsKey, positionsTSKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate positions snapshot: %w", err)
	}
	return nil
}
