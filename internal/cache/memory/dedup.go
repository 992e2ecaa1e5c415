package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// Dedup remembers idempotency keys in process memory for a TTL.
type Dedup struct {
	seen map[string]time.Time // key -> expiry
	mu   sync.Mutex
}

var _ domain.Deduper = (*Dedup)(nil)

// NewDedup creates an empty Dedup.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]time.Time)}
}

// Seen records key and reports whether it was already recorded and not yet
// expired.
func (d *Dedup) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return true, nil
	}
	d.seen[key] = now.Add(ttl)
	return false, nil
}

// Cleanup removes expired keys. It should be called periodically to bound
// memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of remembered keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
