package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Symbol string
	Bot    string
}

// EventRecord is one journaled webhook event.
type EventRecord struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	BotName   string      `json:"botName"`
	Action    string      `json:"action"`
	Failed    bool        `json:"failed"`
	Result    EventResult `json:"result"`
	CreatedAt time.Time   `json:"createdAt"`
}

// EventStore persists the outcome of every handled event.
type EventStore interface {
	Insert(ctx context.Context, rec EventRecord) error
	List(ctx context.Context, opts ListOpts) ([]EventRecord, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
