// Command dcabot is the entry point of the webhook-driven safety-order
// engine. It loads configuration, validates it, wires dependencies, sets up
// signal handling, and starts the application in the configured mode.
//
// Subcommands:
//
//	dcabot [-config path]                          serve webhooks
//	dcabot seal -out path                          seal the webhook secret read from stdin
//	dcabot export [-config path] -from T -to T     upload journaled events to S3
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/app"
	"github.com/Runner89/mexc-trading-bot/internal/config"
	"github.com/Runner89/mexc-trading-bot/internal/crypto"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var err error
	switch cmd {
	case "serve":
		err = serve(args, logger)
	case "seal":
		err = seal(args)
	case "export":
		err = export(args, logger)
	default:
		err = fmt.Errorf("unknown command %q (valid: serve, seal, export)", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads, levels the logger from, and validates the configuration.
func loadConfig(path string, logger *slog.Logger) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, logger, err
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, logger, err
	}
	redacted := config.RedactedConfig(cfg)
	logger.Debug("configuration loaded", slog.Any("config", redacted))
	return cfg, logger, nil
}

func serve(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("DCABOT_CONFIG"), "path to configuration file (empty for defaults and env only)")
	_ = fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath, logger)
	if err != nil {
		return err
	}

	logger.Info("dcabot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		return err
	}

	logger.Info("dcabot stopped")
	return nil
}

func seal(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	out := fs.String("out", "webhook-secret.json", "output path of the sealed secret")
	_ = fs.Parse(args)

	password := os.Getenv("DCABOT_WEBHOOK_SECRET_PASSWORD")
	if password == "" {
		return errors.New("seal: DCABOT_WEBHOOK_SECRET_PASSWORD must be set")
	}
	secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && secret == "" {
		return fmt.Errorf("seal: read secret from stdin: %w", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("seal: empty secret")
	}

	sealed, err := crypto.SealSecret(secret, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return fmt.Errorf("seal: write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "sealed secret written to %s\n", *out)
	return nil
}

func export(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("DCABOT_CONFIG"), "path to configuration file")
	fromFlag := fs.String("from", "", "start of the window (RFC3339)")
	toFlag := fs.String("to", "", "end of the window (RFC3339, default now)")
	_ = fs.Parse(args)

	from, err := time.Parse(time.RFC3339, *fromFlag)
	if err != nil {
		return fmt.Errorf("export: -from: %w", err)
	}
	to := time.Now().UTC()
	if *toFlag != "" {
		if to, err = time.Parse(time.RFC3339, *toFlag); err != nil {
			return fmt.Errorf("export: -to: %w", err)
		}
	}

	cfg, logger, err := loadConfig(*configPath, logger)
	if err != nil {
		return err
	}
	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := application.Export(ctx, from, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d events\n", n)
	return nil
}
