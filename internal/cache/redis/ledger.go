package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Ledger implements domain.Ledger with one Redis list and three string keys
// per bot identity:
//
//	dcabot:{symbol|bot}:fills      list of JSON fill entries
//	dcabot:{symbol|bot}:size       last committed order size
//	dcabot:{symbol|bot}:base_time  base order time, unix milliseconds
//	dcabot:{symbol|bot}:stop       "1" while the stop flag is set
type Ledger struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger. ttl bounds how long an idle identity's keys
// live; zero keeps them forever.
func NewLedger(c *Client, ttl time.Duration) *Ledger {
	return &Ledger{rdb: c.Underlying(), ttl: ttl, now: time.Now}
}

// fillEntry is the stored form of one fill.
type fillEntry struct {
	Price    float64 `json:"p"`
	Quantity float64 `json:"q"`
	TimeMs   int64   `json:"t"`
}

func ledgerKey(id domain.BotIdentity, field string) string {
	return "dcabot:{" + id.Key() + "}:" + field
}

func (l *Ledger) AppendFill(ctx context.Context, id domain.BotIdentity, price, qty float64) error {
	raw, err := json.Marshal(fillEntry{Price: price, Quantity: qty, TimeMs: l.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("redis: marshal fill: %w", err)
	}
	key := ledgerKey(id, "fills")
	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append fill %s: %w", id, err)
	}
	return nil
}

// ReadFills returns the fills in append order. An entry that does not
// decode is returned as a zero Fill so the averaging step rejects the set.
func (l *Ledger) ReadFills(ctx context.Context, id domain.BotIdentity) ([]domain.Fill, error) {
	vals, err := l.rdb.LRange(ctx, ledgerKey(id, "fills"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read fills %s: %w", id, err)
	}
	fills := make([]domain.Fill, 0, len(vals))
	for _, v := range vals {
		var e fillEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			fills = append(fills, domain.Fill{})
			continue
		}
		fills = append(fills, domain.Fill{Price: e.Price, Quantity: e.Quantity, Timestamp: time.UnixMilli(e.TimeMs)})
	}
	return fills, nil
}

func (l *Ledger) ClearFills(ctx context.Context, id domain.BotIdentity) error {
	return l.del(ctx, id, "fills")
}

func (l *Ledger) ReadCachedSize(ctx context.Context, id domain.BotIdentity) (float64, error) {
	s, err := l.get(ctx, id, "size")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse size %s: %w", id, err)
	}
	return v, nil
}

func (l *Ledger) WriteCachedSize(ctx context.Context, id domain.BotIdentity, amount float64) error {
	return l.set(ctx, id, "size", strconv.FormatFloat(amount, 'f', -1, 64))
}

func (l *Ledger) ClearCachedSize(ctx context.Context, id domain.BotIdentity) error {
	return l.del(ctx, id, "size")
}

func (l *Ledger) ReadBaseOrderTime(ctx context.Context, id domain.BotIdentity) (time.Time, error) {
	s, err := l.get(ctx, id, "base_time")
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: parse base time %s: %w", id, err)
	}
	return time.UnixMilli(ms), nil
}

func (l *Ledger) WriteBaseOrderTime(ctx context.Context, id domain.BotIdentity, t time.Time) error {
	return l.set(ctx, id, "base_time", strconv.FormatInt(t.UnixMilli(), 10))
}

func (l *Ledger) ClearBaseOrderTime(ctx context.Context, id domain.BotIdentity) error {
	return l.del(ctx, id, "base_time")
}

func (l *Ledger) ReadStopFlag(ctx context.Context, id domain.BotIdentity) (bool, error) {
	_, err := l.get(ctx, id, "stop")
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WriteStopFlag sets the flag without expiry; only an operator resume
// clears it.
func (l *Ledger) WriteStopFlag(ctx context.Context, id domain.BotIdentity) error {
	if err := l.rdb.Set(ctx, ledgerKey(id, "stop"), "1", 0).Err(); err != nil {
		return fmt.Errorf("redis: write stop %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) ClearStopFlag(ctx context.Context, id domain.BotIdentity) error {
	return l.del(ctx, id, "stop")
}

func (l *Ledger) get(ctx context.Context, id domain.BotIdentity, field string) (string, error) {
	s, err := l.rdb.Get(ctx, ledgerKey(id, field)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: read %s %s: %w", field, id, err)
	}
	return s, nil
}

func (l *Ledger) set(ctx context.Context, id domain.BotIdentity, field, value string) error {
	if err := l.rdb.Set(ctx, ledgerKey(id, field), value, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis: write %s %s: %w", field, id, err)
	}
	return nil
}

func (l *Ledger) del(ctx context.Context, id domain.BotIdentity, field string) error {
	if err := l.rdb.Del(ctx, ledgerKey(id, field)).Err(); err != nil {
		return fmt.Errorf("redis: clear %s %s: %w", field, id, err)
	}
	return nil
}
