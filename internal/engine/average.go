package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// Average sources reported in AverageResult.Source.
const (
	AvgFromLedger   = "ledger"
	AvgFromExchange = "exchange"
)

// AverageResult is the outcome of ComputeAverage.
type AverageResult struct {
	AvgPrice   float64
	EntryCount int
	Degraded   bool
	Source     string
	Reason     string
}

// errMalformedLedger marks a fill set that cannot yield an average.
var errMalformedLedger = errors.New("malformed fill ledger")

// WeightedAverage returns sum(p*q)/sum(q) over fills. Empty input or any
// non-positive or non-finite value yields errMalformedLedger.
func WeightedAverage(fills []domain.Fill) (float64, error) {
	if len(fills) == 0 {
		return 0, fmt.Errorf("%w: no fills", errMalformedLedger)
	}
	var notional, qty float64
	for i, f := range fills {
		if !finitePositive(f.Price) || !finitePositive(f.Quantity) {
			return 0, fmt.Errorf("%w: entry %d has price=%v qty=%v", errMalformedLedger, i, f.Price, f.Quantity)
		}
		notional += f.Price * f.Quantity
		qty += f.Quantity
	}
	return notional / qty, nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// AverageComputer derives the average entry price of the open epoch.
type AverageComputer struct {
	ledger     domain.Ledger
	call       caller
	epsilonPct float64
	logger     *slog.Logger
}

// NewAverageComputer creates an AverageComputer reading fills from ledger.
func NewAverageComputer(ledger domain.Ledger, cfg Config, logger *slog.Logger) *AverageComputer {
	return &AverageComputer{
		ledger:     ledger,
		call:       newCaller(cfg),
		epsilonPct: cfg.FallbackEpsilonPercent,
		logger:     logger.With(slog.String("component", "average")),
	}
}

// ComputeAverage returns the volume-weighted average of the ledger fills.
// When the ledger is empty, malformed or unreachable, or forceFallback is
// set, the exchange-reported average is used with an epsilon correction
// toward the conservative side and the result is marked degraded.
func (a *AverageComputer) ComputeAverage(ctx context.Context, id domain.BotIdentity, side domain.Side, snap domain.PositionSnapshot, forceFallback bool) (AverageResult, error) {
	reason := "forced by degraded status"
	entries := 0
	if !forceFallback {
		fills, err := readWithRetry(ctx, a.call, func(ctx context.Context) ([]domain.Fill, error) {
			return a.ledger.ReadFills(ctx, id)
		})
		switch {
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			reason = "ledger unreachable: " + err.Error()
		default:
			entries = len(fills)
			avg, avgErr := WeightedAverage(fills)
			if avgErr == nil {
				return AverageResult{
					AvgPrice:   avg,
					EntryCount: entries,
					Source:     AvgFromLedger,
				}, nil
			}
			reason = avgErr.Error()
		}
	}

	if !finitePositive(snap.AvgPrice) {
		return AverageResult{}, fmt.Errorf("average: %s and no exchange average: %w", reason, domain.ErrInsufficientData)
	}
	a.logger.WarnContext(ctx, "using exchange average",
		slog.String("identity", id.Key()),
		slog.String("reason", reason),
		slog.Float64("exchange_avg", snap.AvgPrice),
	)
	return AverageResult{
		AvgPrice:   a.correct(side, snap.AvgPrice),
		EntryCount: entries,
		Degraded:   true,
		Source:     AvgFromExchange,
		Reason:     reason,
	}, nil
}

// correct moves the exchange average away from the exchange's rounding:
// down for LONG, up for SHORT.
func (a *AverageComputer) correct(side domain.Side, avg float64) float64 {
	eps := a.epsilonPct / 100
	if side == domain.SideShort {
		return avg * (1 + eps)
	}
	return avg * (1 - eps)
}
