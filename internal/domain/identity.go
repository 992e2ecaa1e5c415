// Package domain holds the types and collaborator interfaces shared by the
// engine, the HTTP boundary and the storage adapters.
package domain

import (
	"fmt"
	"strings"
)

// Side is the position side on a hedge-mode futures account.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ParseSide normalizes s to a Side. It returns ErrInvalidInput for anything
// other than long/short in any letter case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG":
		return SideLong, nil
	case "SHORT":
		return SideShort, nil
	default:
		return "", fmt.Errorf("%w: unknown position side %q", ErrInvalidInput, s)
	}
}

// OpenOrderSide returns the exchange order side that grows a position.
func (s Side) OpenOrderSide() string {
	if s == SideShort {
		return "SELL"
	}
	return "BUY"
}

// Opposite returns the other position side.
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

// CloseOrderSide returns the exchange order side that reduces a position.
func (s Side) CloseOrderSide() string {
	if s == SideShort {
		return "BUY"
	}
	return "SELL"
}

// BotIdentity is the unique key for all per-bot state.
type BotIdentity struct {
	Symbol  string `json:"symbol"`
	BotName string `json:"botName"`
}

// Key returns the string form used for map keys, Redis keys and locks.
func (id BotIdentity) Key() string {
	return id.Symbol + "|" + id.BotName
}

func (id BotIdentity) String() string {
	return id.BotName + "@" + id.Symbol
}

// Credentials are the per-request exchange API credentials.
type Credentials struct {
	APIKey    string
	APISecret string
}

// String returns a redacted representation suitable for logging.
func (c Credentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=%s}", redact(c.APIKey), redact(c.APISecret))
}
