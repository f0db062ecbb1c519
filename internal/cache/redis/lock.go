package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/stratexec/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds the caller's
// token, so a holder whose TTL already lapsed cannot free a lock someone else
// has since acquired.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager serializes order submission per symbol across every strategy
// cycle in the deployment. Locks are plain SET NX keys with a TTL; release
// goes through releaseScript.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager on the shared client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		release: redis.NewScript(releaseScript),
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock for key or returns domain.ErrLockHeld if another
// holder has it. The returned function releases the lock and is safe to call
// more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Release must work even after the submitting context was
			// cancelled, otherwise the symbol stays locked for the full TTL.
			releaseCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			_ = lm.release.Run(releaseCtx, lm.rdb, []string{redisKey}, token).Err()
		})
	}
	return unlock, nil
}
