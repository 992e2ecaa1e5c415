package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Dedup records webhook idempotency keys with SET NX so a retried delivery
// is recognised on any replica.
type Dedup struct {
	rdb *redis.Client
}

// NewDedup creates a Dedup backed by the given Client.
func NewDedup(c *Client) *Dedup {
	return &Dedup{rdb: c.Underlying()}
}

// Seen reports whether key was recorded within ttl, recording it if not.
func (d *Dedup) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := d.rdb.SetNX(ctx, "dcabot:idem:"+key, time.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup %s: %w", key, err)
	}
	return !fresh, nil
}

var _ domain.Deduper = (*Dedup)(nil)
