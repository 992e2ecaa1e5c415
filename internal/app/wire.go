package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/Runner89/mexc-trading-bot/internal/blob/s3"
	"github.com/Runner89/mexc-trading-bot/internal/cache/memory"
	"github.com/Runner89/mexc-trading-bot/internal/cache/redis"
	"github.com/Runner89/mexc-trading-bot/internal/config"
	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/Runner89/mexc-trading-bot/internal/notify"
	"github.com/Runner89/mexc-trading-bot/internal/platform/bingx"
	"github.com/Runner89/mexc-trading-bot/internal/platform/paper"
	"github.com/Runner89/mexc-trading-bot/internal/server/handler"
	"github.com/Runner89/mexc-trading-bot/internal/store/postgres"
)

// Dependencies bundles every collaborator the modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Engine state
	Ledger domain.Ledger
	Locks  domain.LockManager
	Dedup  domain.Deduper

	// Caches
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Quotes      paper.PriceSource

	// Persistence
	EventStore domain.EventStore
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Checks are reported by the health endpoint.
	Checks map[string]handler.Check

	// Sweep drops expired process-local state. Nil with Redis.
	Sweep func()
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Without Redis every shared
// concern falls back to process memory.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}
	public := bingx.NewPublicClient(cfg.Exchange.BaseURL, cfg.Exchange.Timeout.Duration)
	deps.Quotes = public

	// --- Redis ---
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		locks := redis.NewLockManager(redisClient)
		locks.OnReleaseError(func(key string, err error) {
			logger.Warn("lock release failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		})
		deps.Ledger = redis.NewLedger(redisClient, cfg.Engine.LedgerTTL.Duration)
		deps.Locks = locks
		deps.Dedup = redis.NewDedup(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Quotes = redis.NewQuoteCache(redisClient, public, cfg.Exchange.QuoteMaxAge.Duration)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.Warn("redis not configured, ledger and locks are process-local")
		dedup := memory.NewDedup()
		deps.Ledger = memory.NewLedger()
		deps.Dedup = dedup
		deps.Sweep = dedup.Cleanup
		deps.RateLimiter = memory.NewRateLimiter()
		deps.SignalBus = memory.NewBus()
	}
	if !strings.EqualFold(cfg.Webhook.Idempotency, "key") {
		deps.Dedup = nil
	}

	// --- PostgreSQL event journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.EventStore = postgres.NewEventStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- S3 event archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		writer := s3blob.NewWriter(s3Client, cfg.S3.PartSize)
		deps.Archiver = s3blob.NewArchiver(writer, cfg.S3.Prefix, cfg.S3.MaxBatch, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.TitlePrefix, logger)

	return deps, cleanup, nil
}
