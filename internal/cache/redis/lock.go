package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLua deletes a lock key only while it still holds the caller's
// token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager serializes one bot identity across replicas with SET NX PX
// and a token-checked release.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
	onError func(key string, err error)
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

// OnReleaseError registers a callback for failed releases. The lock then
// expires by TTL.
func (lm *LockManager) OnReleaseError(fn func(key string, err error)) {
	lm.onError = fn
}

func lockKey(key string) string {
	return "dcabot:lock:" + key
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The
// returned release function is idempotent and runs on a fresh context.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lm.release.Run(releaseCtx, lm.rdb, []string{lk}, token).Err(); err != nil && lm.onError != nil {
				lm.onError(key, err)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
