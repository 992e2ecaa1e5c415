package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrDuplicate    = errors.New("duplicate event")

	// ErrTransient marks network failures and timeouts on collaborator calls.
	ErrTransient = errors.New("transient collaborator error")
	// ErrLedgerDegraded marks an unusable fill ledger. Never fatal.
	ErrLedgerDegraded = errors.New("ledger degraded")
	// ErrRejected marks an order the exchange refused or did not confirm.
	ErrRejected = errors.New("order rejected by exchange")
	// ErrInvalidInput marks a webhook payload that failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvariantViolation marks an exchange state the engine must never
	// produce, such as two live take-profit orders for one identity.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInsufficientData marks a computation whose inputs could not be
	// retrieved. Callers must not substitute zero or stale values.
	ErrInsufficientData = errors.New("insufficient data")
)
