package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// EventStore implements domain.EventStore over the webhook_events table.
// Results are stored as JSONB; credentials never reach EventResult.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*EventStore)(nil)

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Insert journals one event. Re-inserting the same ID is a no-op.
func (s *EventStore) Insert(ctx context.Context, rec domain.EventRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("postgres: marshal event result: %w", err)
	}
	const query = `
		INSERT INTO webhook_events (id, symbol, bot_name, action, failed, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, rec.BotName, rec.Action, rec.Failed, result, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", rec.ID, err)
	}
	return nil
}

// List returns events newest first, filtered by identity and time.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.EventRecord, error) {
	query, args := listQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		var rec domain.EventRecord
		var result []byte
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.BotName, &rec.Action, &rec.Failed, &result, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &rec.Result); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

func listQuery(opts domain.ListOpts) (string, []any) {
	query := `SELECT id::text, symbol, bot_name, action, failed, result, created_at FROM webhook_events WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}

	if opts.Symbol != "" {
		add(" AND symbol = $%d", opts.Symbol)
	}
	if opts.Bot != "" {
		add(" AND bot_name = $%d", opts.Bot)
	}
	if opts.Since != nil {
		add(" AND created_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add(" AND created_at <= $%d", *opts.Until)
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		add(" LIMIT $%d", opts.Limit)
	}
	if opts.Offset > 0 {
		add(" OFFSET $%d", opts.Offset)
	}
	return query, args
}
