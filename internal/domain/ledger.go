package domain

import (
	"context"
	"time"
)

// Ledger is the external, eventually-consistent store scoped per bot
// identity. Read methods return ErrNotFound when nothing is stored.
type Ledger interface {
	AppendFill(ctx context.Context, id BotIdentity, price, qty float64) error
	ReadFills(ctx context.Context, id BotIdentity) ([]Fill, error)
	ClearFills(ctx context.Context, id BotIdentity) error

	ReadCachedSize(ctx context.Context, id BotIdentity) (float64, error)
	WriteCachedSize(ctx context.Context, id BotIdentity, amount float64) error
	ClearCachedSize(ctx context.Context, id BotIdentity) error

	ReadBaseOrderTime(ctx context.Context, id BotIdentity) (time.Time, error)
	WriteBaseOrderTime(ctx context.Context, id BotIdentity, t time.Time) error
	ClearBaseOrderTime(ctx context.Context, id BotIdentity) error

	ReadStopFlag(ctx context.Context, id BotIdentity) (bool, error)
	WriteStopFlag(ctx context.Context, id BotIdentity) error
	ClearStopFlag(ctx context.Context, id BotIdentity) error
}

// Notifier delivers operator alerts for one identity.
type Notifier interface {
	SendAlert(ctx context.Context, id BotIdentity, message string) error
}
