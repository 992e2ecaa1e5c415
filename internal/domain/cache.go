package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Deduper remembers idempotency keys for a bounded time.
type Deduper interface {
	// Seen records key and reports whether it was already recorded.
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// SignalBus provides pub/sub fan-out of engine events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
