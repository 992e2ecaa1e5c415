package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// Size sources reported in SizeDecision.Source.
const (
	SizeFromBase   = "base"
	SizeFromMemory = "memory"
	SizeFromLedger = "ledger"
)

// SizingInput carries the per-event sizing parameters. Margin is only
// called when a base order has to be computed.
type SizingInput struct {
	Leverage        int
	SafetyBuffer    float64
	BaseOrderFactor float64
	GrowthFactor    float64
	Margin          func(ctx context.Context) (float64, error)
}

// SizeDecision is the notional chosen for the next entry order.
type SizeDecision struct {
	Notional        float64
	Base            bool
	Source          string
	AvailableMargin float64
	LastNotional    float64
}

// Sizer computes entry order notionals. The last committed notional per
// identity is mirrored in memory and in the ledger size record.
type Sizer struct {
	ledger domain.Ledger
	call   caller
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]float64
}

// NewSizer creates a Sizer backed by ledger.
func NewSizer(ledger domain.Ledger, cfg Config, logger *slog.Logger) *Sizer {
	return &Sizer{
		ledger: ledger,
		call:   newCaller(cfg),
		logger: logger.With(slog.String("component", "sizer")),
		last:   make(map[string]float64),
	}
}

// BaseNotional returns max((margin*lev - buffer*lev)*factor, 0).
func BaseNotional(margin float64, leverage int, safetyBuffer, baseOrderFactor float64) float64 {
	lev := float64(leverage)
	n := (margin*lev - safetyBuffer*lev) * baseOrderFactor
	if n < 0 || math.IsNaN(n) {
		return 0
	}
	return n
}

// ComputeOrderSize returns the notional of the next entry order. A FLAT
// state yields a base order; an accumulating state grows the last committed
// notional by the growth factor. The result is not stored until Commit.
func (s *Sizer) ComputeOrderSize(ctx context.Context, id domain.BotIdentity, state domain.PositionState, in SizingInput) (SizeDecision, error) {
	if state.Open() {
		last, source := s.lastNotional(ctx, id)
		if last > 0 {
			return SizeDecision{
				Notional:     last * in.GrowthFactor,
				Source:       source,
				LastNotional: last,
			}, nil
		}
		s.logger.WarnContext(ctx, "no previous order size found, sizing as base order",
			slog.String("identity", id.Key()),
		)
	}

	if in.Margin == nil {
		return SizeDecision{}, fmt.Errorf("sizer: available margin: %w", domain.ErrInsufficientData)
	}
	margin, err := in.Margin(ctx)
	if err != nil {
		return SizeDecision{}, fmt.Errorf("sizer: available margin: %w: %w", domain.ErrInsufficientData, err)
	}
	return SizeDecision{
		Notional:        BaseNotional(margin, in.Leverage, in.SafetyBuffer, in.BaseOrderFactor),
		Base:            true,
		Source:          SizeFromBase,
		AvailableMargin: margin,
	}, nil
}

// lastNotional checks memory first, then the ledger size record. A ledger
// hit repopulates memory.
func (s *Sizer) lastNotional(ctx context.Context, id domain.BotIdentity) (float64, string) {
	s.mu.Lock()
	v, ok := s.last[id.Key()]
	s.mu.Unlock()
	if ok && v > 0 {
		return v, SizeFromMemory
	}

	v, err := readWithRetry(ctx, s.call, func(ctx context.Context) (float64, error) {
		return s.ledger.ReadCachedSize(ctx, id)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "read size record failed",
				slog.String("identity", id.Key()),
				slog.String("error", err.Error()),
			)
		}
		return 0, ""
	}
	if v <= 0 {
		return 0, ""
	}
	s.mu.Lock()
	s.last[id.Key()] = v
	s.mu.Unlock()
	return v, SizeFromLedger
}

// Commit records notional as the last filled order size for id. Memory is
// always updated; a ledger failure is returned wrapped in ErrLedgerDegraded.
func (s *Sizer) Commit(ctx context.Context, id domain.BotIdentity, notional float64) error {
	s.mu.Lock()
	s.last[id.Key()] = notional
	s.mu.Unlock()

	err := s.call.once(ctx, func(ctx context.Context) error {
		return s.ledger.WriteCachedSize(ctx, id, notional)
	})
	if err != nil {
		return fmt.Errorf("sizer: write size record: %w: %w", domain.ErrLedgerDegraded, err)
	}
	return nil
}

// Forget drops the size record for id in memory and in the ledger.
func (s *Sizer) Forget(ctx context.Context, id domain.BotIdentity) error {
	s.mu.Lock()
	delete(s.last, id.Key())
	s.mu.Unlock()

	err := s.call.once(ctx, func(ctx context.Context) error {
		return s.ledger.ClearCachedSize(ctx, id)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("sizer: clear size record: %w: %w", domain.ErrLedgerDegraded, err)
	}
	return nil
}
