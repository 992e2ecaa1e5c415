// Package engine implements safety-order accumulation for one position per
// bot identity: order sizing, average entry tracking, take-profit and
// stop-loss management, and operator alerts.
package engine

import "time"

// Config holds the tunables shared by every bot identity. Per-bot
// parameters travel on the event itself.
type Config struct {
	// CallTimeout bounds every exchange, ledger and notifier call.
	CallTimeout time.Duration
	// SettleDelay is waited after a market order before the position is read.
	SettleDelay time.Duration
	// RetryBackoffMin and RetryBackoffMax bound the single retry of
	// idempotent reads.
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration

	// FallbackEpsilonPercent is applied to the exchange-reported average when
	// the ledger cannot be used.
	FallbackEpsilonPercent float64
	// AllowMissingStopLoss lets a position stay open with only a take-profit
	// when the exchange reports no liquidation price.
	AllowMissingStopLoss bool
	// AlertAfterSafetyOrders is the default alert threshold. Zero disables
	// threshold alerts.
	AlertAfterSafetyOrders int

	// LockTTL is the lease of the cross-replica identity lock. It must
	// outlive the longest event.
	LockTTL time.Duration
	// LockWait bounds how long an event waits for a lock another replica
	// holds before failing with ErrLockHeld.
	LockWait time.Duration
	// IdempotencyTTL is how long idempotency keys are remembered. Used only
	// when a Deduper is wired.
	IdempotencyTTL time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		CallTimeout:            10 * time.Second,
		SettleDelay:            2 * time.Second,
		RetryBackoffMin:        200 * time.Millisecond,
		RetryBackoffMax:        2 * time.Second,
		FallbackEpsilonPercent: 0.25,
		AlertAfterSafetyOrders: 5,
		LockTTL:                3 * time.Minute,
		LockWait:               30 * time.Second,
		IdempotencyTTL:         24 * time.Hour,
	}
}
