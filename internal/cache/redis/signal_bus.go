package redis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// subscriberBuffer is the per-subscriber backlog of event results.
const subscriberBuffer = 128

// SignalBus fans engine results out to the dashboards of every replica over
// Redis Pub/Sub. Delivery is best effort: the journal is the durable record,
// so a subscriber that falls behind loses results instead of stalling the
// shared Pub/Sub connection.
type SignalBus struct {
	rdb     *redis.Client
	dropped atomic.Int64
}

func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends one encoded event result to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams results published to channel, or to every channel
// matching it when it holds glob wildcards (events:*). The returned channel
// closes when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer pubsub.Close()
		forward(ctx, pubsub.Channel(), out, &sb.dropped)
	}()
	return out, nil
}

// Dropped reports how many results were discarded for slow subscribers.
func (sb *SignalBus) Dropped() int64 {
	return sb.dropped.Load()
}

// forward copies payloads from in to out until ctx ends or in closes, then
// closes out. A full out drops the payload.
func forward(ctx context.Context, in <-chan *redis.Message, out chan<- []byte, dropped *atomic.Int64) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				dropped.Add(1)
			}
		}
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
