package memory

import (
	"context"
	"testing"
	"time"
)

func TestBusPatternDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()

	all, err := b.Subscribe(ctx, "dcabot:events:*")
	if err != nil {
		t.Fatal(err)
	}
	one, _ := b.Subscribe(ctx, "dcabot:events:DOGE-USDT")

	_ = b.Publish(ctx, "dcabot:events:DOGE-USDT", []byte("a"))
	_ = b.Publish(ctx, "dcabot:events:BTC-USDT", []byte("b"))

	if got := string(<-all); got != "a" {
		t.Fatalf("all[0] = %q", got)
	}
	if got := string(<-all); got != "b" {
		t.Fatalf("all[1] = %q", got)
	}
	if got := string(<-one); got != "a" {
		t.Fatalf("one[0] = %q", got)
	}
	select {
	case msg := <-one:
		t.Fatalf("unexpected %q", msg)
	default:
	}

	cancel()
	select {
	case _, ok := <-all:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	r := NewRateLimiter()
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := r.Allow(ctx, "ip", 2, time.Second); !ok {
			t.Fatalf("request %d denied", i)
		}
	}
	if ok, _ := r.Allow(ctx, "ip", 2, time.Second); ok {
		t.Fatal("third request allowed")
	}
	if ok, _ := r.Allow(ctx, "other", 2, time.Second); !ok {
		t.Fatal("other key denied")
	}
	now = now.Add(1100 * time.Millisecond)
	if ok, _ := r.Allow(ctx, "ip", 2, time.Second); !ok {
		t.Fatal("request after window denied")
	}
}
