// Package memory provides in-process implementations of the ledger, dedup,
// rate limit and event bus interfaces for paper trading and single-replica
// deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// Ledger is a process-local domain.Ledger. It is safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	fills     map[string][]domain.Fill
	sizes     map[string]float64
	baseTimes map[string]time.Time
	stops     map[string]bool
	now       func() time.Time
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		fills:     make(map[string][]domain.Fill),
		sizes:     make(map[string]float64),
		baseTimes: make(map[string]time.Time),
		stops:     make(map[string]bool),
		now:       time.Now,
	}
}

func (l *Ledger) AppendFill(_ context.Context, id domain.BotIdentity, price, qty float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fills[id.Key()] = append(l.fills[id.Key()], domain.Fill{Price: price, Quantity: qty, Timestamp: l.now()})
	return nil
}

func (l *Ledger) ReadFills(_ context.Context, id domain.BotIdentity) ([]domain.Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fills := l.fills[id.Key()]
	out := make([]domain.Fill, len(fills))
	copy(out, fills)
	return out, nil
}

func (l *Ledger) ClearFills(_ context.Context, id domain.BotIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.fills, id.Key())
	return nil
}

func (l *Ledger) ReadCachedSize(_ context.Context, id domain.BotIdentity) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.sizes[id.Key()]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return v, nil
}

func (l *Ledger) WriteCachedSize(_ context.Context, id domain.BotIdentity, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sizes[id.Key()] = amount
	return nil
}

func (l *Ledger) ClearCachedSize(_ context.Context, id domain.BotIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sizes, id.Key())
	return nil
}

func (l *Ledger) ReadBaseOrderTime(_ context.Context, id domain.BotIdentity) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.baseTimes[id.Key()]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	return t, nil
}

func (l *Ledger) WriteBaseOrderTime(_ context.Context, id domain.BotIdentity, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.baseTimes[id.Key()] = t
	return nil
}

func (l *Ledger) ClearBaseOrderTime(_ context.Context, id domain.BotIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.baseTimes, id.Key())
	return nil
}

func (l *Ledger) ReadStopFlag(_ context.Context, id domain.BotIdentity) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stops[id.Key()], nil
}

func (l *Ledger) WriteStopFlag(_ context.Context, id domain.BotIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops[id.Key()] = true
	return nil
}

func (l *Ledger) ClearStopFlag(_ context.Context, id domain.BotIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.stops, id.Key())
	return nil
}
