package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// Archiver buffers handled events and uploads them as JSONL objects
// partitioned by UTC day:
//
//	{prefix}/events/2026/10/16/150405-<uuid>.jsonl
type Archiver struct {
	writer   domain.BlobWriter
	prefix   string
	maxBatch int
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending []domain.EventRecord
}

// NewArchiver creates an Archiver. A full batch of maxBatch records is
// flushed by the next Run tick.
func NewArchiver(writer domain.BlobWriter, prefix string, maxBatch int, logger *slog.Logger) *Archiver {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &Archiver{
		writer:   writer,
		prefix:   strings.Trim(prefix, "/"),
		maxBatch: maxBatch,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// Add queues one record.
func (a *Archiver) Add(rec domain.EventRecord) {
	a.mu.Lock()
	a.pending = append(a.pending, rec)
	a.mu.Unlock()
}

// Pending returns the number of queued records.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flush uploads up to maxBatch queued records. On upload failure the
// records are requeued in front of anything added meanwhile.
func (a *Archiver) Flush(ctx context.Context) (int, error) {
	a.mu.Lock()
	n := len(a.pending)
	if n > a.maxBatch {
		n = a.maxBatch
	}
	batch := append([]domain.EventRecord(nil), a.pending[:n]...)
	a.pending = a.pending[n:]
	a.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(batch)
	if err == nil {
		err = a.writer.Put(ctx, a.objectPath(), bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return 0, fmt.Errorf("s3blob: flush %d events: %w", len(batch), err)
	}
	return len(batch), nil
}

// Run flushes every interval until ctx is cancelled, then makes one final
// best-effort flush.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for a.Pending() > 0 {
				if _, err := a.Flush(flushCtx); err != nil {
					a.logger.Error("final flush failed", slog.String("error", err.Error()), slog.Int("pending", a.Pending()))
					break
				}
			}
			return nil
		case <-ticker.C:
			for a.Pending() > 0 {
				n, err := a.Flush(ctx)
				if err != nil {
					a.logger.Warn("flush failed", slog.String("error", err.Error()))
					break
				}
				a.logger.Debug("events archived", slog.Int("count", n))
			}
		}
	}
}

// Export uploads every journaled event in [from, to) as one object. It
// pages through store and returns the number of records written.
func (a *Archiver) Export(ctx context.Context, store domain.EventStore, from, to time.Time) (int, error) {
	const page = 1000
	var all []domain.EventRecord
	for offset := 0; ; offset += page {
		recs, err := store.List(ctx, domain.ListOpts{Since: &from, Until: &to, Limit: page, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: export query: %w", err)
		}
		for _, r := range recs {
			if r.CreatedAt.Before(to) {
				all = append(all, r)
			}
		}
		if len(recs) < page {
			break
		}
	}
	if len(all) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export marshal: %w", err)
	}
	path := fmt.Sprintf("%s/exports/%s_%s.jsonl", a.prefix, from.UTC().Format("20060102T150405"), to.UTC().Format("20060102T150405"))
	if err := a.writer.Put(ctx, strings.TrimPrefix(path, "/"), bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: export upload: %w", err)
	}
	return len(all), nil
}

func (a *Archiver) objectPath() string {
	now := a.now().UTC()
	p := fmt.Sprintf("events/%s/%s-%s.jsonl", now.Format("2006/01/02"), now.Format("150405"), uuid.NewString())
	if a.prefix == "" {
		return p
	}
	return a.prefix + "/" + p
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
