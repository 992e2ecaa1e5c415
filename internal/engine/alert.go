package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// AlertPolicy decides when operators are notified.
type AlertPolicy struct {
	notifier  domain.Notifier
	threshold int
	call      caller
	logger    *slog.Logger
}

// NewAlertPolicy creates an AlertPolicy. notifier may be nil, in which case
// alerts are only logged.
func NewAlertPolicy(notifier domain.Notifier, cfg Config, logger *slog.Logger) *AlertPolicy {
	return &AlertPolicy{
		notifier:  notifier,
		threshold: cfg.AlertAfterSafetyOrders,
		call:      newCaller(cfg),
		logger:    logger.With(slog.String("component", "alerts")),
	}
}

// SafetyOrderCount returns the count the threshold is compared against. In
// degraded mode the ledger cannot be trusted and the local counter is used.
func SafetyOrderCount(degraded bool, localCount, ledgerEntries int) int {
	if degraded {
		return localCount
	}
	return max(ledgerEntries-1, 0)
}

// Threshold returns eventThreshold when set, otherwise the configured one.
func (p *AlertPolicy) Threshold(eventThreshold int) int {
	if eventThreshold > 0 {
		return eventThreshold
	}
	return p.threshold
}

// Evaluate sends one alert when the safety-order count reached the
// threshold. Repeated events above the threshold alert every time.
func (p *AlertPolicy) Evaluate(ctx context.Context, id domain.BotIdentity, count, eventThreshold int) bool {
	threshold := p.Threshold(eventThreshold)
	if threshold <= 0 || count < threshold {
		return false
	}
	msg := fmt.Sprintf("%s %s: %d safety orders filled (alert threshold %d)", id.BotName, id.Symbol, count, threshold)
	return p.Notify(ctx, id, msg)
}

// Notify sends msg unconditionally and reports whether delivery succeeded.
func (p *AlertPolicy) Notify(ctx context.Context, id domain.BotIdentity, msg string) bool {
	p.logger.WarnContext(ctx, "alert",
		slog.String("identity", id.Key()),
		slog.String("message", msg),
	)
	if p.notifier == nil {
		return false
	}
	err := p.call.once(ctx, func(ctx context.Context) error {
		return p.notifier.SendAlert(ctx, id, msg)
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "alert delivery failed",
			slog.String("identity", id.Key()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
