package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PriceSource is an upstream price lookup.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// QuoteCache fronts a PriceSource with a shared Redis hash per symbol so
// replicas and the paper ticker do not each hit the exchange. Each quote is
// stored at "dcabot:quote:{symbol}" with fields "price" and "ts" (unix ms).
type QuoteCache struct {
	rdb      *redis.Client
	upstream PriceSource
	maxAge   time.Duration
	now      func() time.Time
}

// NewQuoteCache creates a QuoteCache. Quotes older than maxAge are
// refreshed from upstream.
func NewQuoteCache(c *Client, upstream PriceSource, maxAge time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), upstream: upstream, maxAge: maxAge, now: time.Now}
}

func quoteKey(symbol string) string {
	return "dcabot:quote:" + symbol
}

// GetPrice returns a cached quote when fresh, else fetches and stores one.
// A Redis failure falls through to upstream.
func (q *QuoteCache) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if price, ts, err := q.cached(ctx, symbol); err == nil && q.now().Sub(ts) <= q.maxAge {
		return price, nil
	}
	price, err := q.upstream.GetPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	_ = q.SetPrice(ctx, symbol, price)
	return price, nil
}

// SetPrice stores a quote stamped now.
func (q *QuoteCache) SetPrice(ctx context.Context, symbol string, price float64) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.now().UnixMilli(), 10),
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, quoteKey(symbol), fields)
	pipe.Expire(ctx, quoteKey(symbol), 10*q.maxAge+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", symbol, err)
	}
	return nil
}

var errNoQuote = errors.New("redis: no quote")

func (q *QuoteCache) cached(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := q.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	priceStr, ok1 := vals["price"]
	tsStr, ok2 := vals["ts"]
	if !ok1 || !ok2 {
		return 0, time.Time{}, errNoQuote
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote %s: %w", symbol, err)
	}
	ms, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote ts %s: %w", symbol, err)
	}
	return price, time.UnixMilli(ms), nil
}
