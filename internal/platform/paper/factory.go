package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// Factory hands out one simulated account per API key so state survives
// across webhook events.
type Factory struct {
	mu       sync.Mutex
	balance  float64
	source   PriceSource
	logger   *slog.Logger
	accounts map[string]*Exchange
}

var _ domain.ExchangeFactory = (*Factory)(nil)

// NewFactory creates a Factory whose accounts start with balance.
func NewFactory(balance float64, source PriceSource, logger *slog.Logger) *Factory {
	return &Factory{
		balance:  balance,
		source:   source,
		logger:   logger,
		accounts: make(map[string]*Exchange),
	}
}

// ForCredentials returns the account of creds.APIKey, creating it on first
// use.
func (f *Factory) ForCredentials(creds domain.Credentials) (domain.Exchange, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("paper: %w: missing api key", domain.ErrInvalidInput)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ex, ok := f.accounts[creds.APIKey]
	if !ok {
		ex = NewExchange(f.balance, f.source, f.logger)
		f.accounts[creds.APIKey] = ex
	}
	return ex, nil
}

// Tick pushes a fresh price for every symbol any account trades.
func (f *Factory) Tick(ctx context.Context) error {
	f.mu.Lock()
	accounts := make([]*Exchange, 0, len(f.accounts))
	for _, ex := range f.accounts {
		accounts = append(accounts, ex)
	}
	f.mu.Unlock()
	if f.source == nil {
		return nil
	}

	prices := make(map[string]float64)
	for _, ex := range accounts {
		for _, symbol := range ex.Symbols() {
			price, ok := prices[symbol]
			if !ok {
				p, err := f.source.GetPrice(ctx, symbol)
				if err != nil {
					return fmt.Errorf("paper: tick %s: %w", symbol, err)
				}
				price = p
				prices[symbol] = p
			}
			ex.SetPrice(symbol, price)
		}
	}
	return nil
}
