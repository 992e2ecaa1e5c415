package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// caller runs collaborator calls under a per-call deadline.
type caller struct {
	timeout    time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
}

func newCaller(cfg Config) caller {
	return caller{
		timeout:    cfg.CallTimeout,
		backoffMin: cfg.RetryBackoffMin,
		backoffMax: cfg.RetryBackoffMax,
	}
}

// once runs fn a single time. Used for order placement and writes.
func (c caller) once(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := c.bound(ctx)
	defer cancel()
	return classify(fn(callCtx))
}

func (c caller) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// readWithRetry runs an idempotent read and retries it once after a backoff
// when the first attempt failed transiently.
func readWithRetry[T any](ctx context.Context, c caller, fn func(context.Context) (T, error)) (T, error) {
	b := &backoff.Backoff{Min: c.backoffMin, Max: c.backoffMax, Factor: 2, Jitter: true}

	var (
		out T
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		err = c.once(ctx, func(callCtx context.Context) error {
			var callErr error
			out, callErr = fn(callCtx)
			return callErr
		})
		if err == nil || !retryable(err) || attempt == 1 {
			break
		}
		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return out, classify(ctx.Err())
		case <-timer.C:
		}
	}
	return out, err
}

// acquireWait takes the cross-replica lock for key. While another replica
// holds it, Acquire is retried with backoff until wait elapses or ctx ends;
// the last ErrLockHeld is returned then.
func (c caller) acquireWait(ctx context.Context, locks domain.LockManager, key string, ttl, wait time.Duration) (func(), error) {
	b := &backoff.Backoff{Min: c.backoffMin, Max: c.backoffMax, Factor: 2, Jitter: true}
	deadline := time.Now().Add(wait)
	for {
		release, err := locks.Acquire(ctx, key, ttl)
		if err == nil || !errors.Is(err, domain.ErrLockHeld) {
			return release, err
		}
		d := b.Duration()
		if time.Now().Add(d).After(deadline) {
			return nil, err
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}

// classify tags deadline and network errors as transient.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrTransient) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrRateLimited)
}
