// Package app provides the top-level application lifecycle management for
// the dcabot webhook engine. It wires together all dependencies (ledger,
// caches, journal, archive and notifications) and starts the goroutines of
// the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "live":
		return a.LiveMode(ctx, deps)
	case "paper":
		return a.PaperMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Export uploads the journaled events of [from, to) to the archive bucket.
// It needs both the Postgres journal and S3 to be enabled.
func (a *App) Export(ctx context.Context, from, to time.Time) (int, error) {
	if !to.After(from) {
		return 0, fmt.Errorf("app: export window %s..%s is empty", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return 0, err
	}
	if deps.EventStore == nil || deps.Archiver == nil {
		return 0, errors.New("app: export needs postgres.enabled and s3.enabled")
	}
	n, err := deps.Archiver.Export(ctx, deps.EventStore, from, to)
	if err != nil {
		return 0, fmt.Errorf("app: export: %w", err)
	}
	a.logger.InfoContext(ctx, "events exported", slog.Int("count", n))
	return n, nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
