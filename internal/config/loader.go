package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DCABOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DCABOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "DCABOT_EXCHANGE_BASE_URL")
	setDuration(&cfg.Exchange.Timeout, "DCABOT_EXCHANGE_TIMEOUT")
	setInt(&cfg.Exchange.Precision, "DCABOT_EXCHANGE_PRECISION")
	setFloat64(&cfg.Exchange.PaperBalance, "DCABOT_EXCHANGE_PAPER_BALANCE")
	setDuration(&cfg.Exchange.PaperTick, "DCABOT_EXCHANGE_PAPER_TICK")

	// ── Engine ──
	setDuration(&cfg.Engine.CallTimeout, "DCABOT_ENGINE_CALL_TIMEOUT")
	setDuration(&cfg.Engine.SettleDelay, "DCABOT_ENGINE_SETTLE_DELAY")
	setFloat64(&cfg.Engine.FallbackEpsilonPercent, "DCABOT_ENGINE_FALLBACK_EPSILON_PERCENT")
	setBool(&cfg.Engine.AllowMissingStopLoss, "DCABOT_ENGINE_ALLOW_MISSING_STOP_LOSS")
	setInt(&cfg.Engine.AlertAfterSafetyOrders, "DCABOT_ENGINE_ALERT_AFTER_SAFETY_ORDERS")
	setDuration(&cfg.Engine.LockTTL, "DCABOT_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.LockWait, "DCABOT_ENGINE_LOCK_WAIT")
	setDuration(&cfg.Engine.LedgerTTL, "DCABOT_ENGINE_LEDGER_TTL")

	// ── Webhook ──
	setStr(&cfg.Webhook.Path, "DCABOT_WEBHOOK_PATH")
	setStr(&cfg.Webhook.Secret, "DCABOT_WEBHOOK_SECRET")
	setStr(&cfg.Webhook.SecretFile, "DCABOT_WEBHOOK_SECRET_FILE")
	setStr(&cfg.Webhook.SecretPassword, "DCABOT_WEBHOOK_SECRET_PASSWORD")
	setStr(&cfg.Webhook.Idempotency, "DCABOT_WEBHOOK_IDEMPOTENCY")
	setInt(&cfg.Webhook.RateLimit, "DCABOT_WEBHOOK_RATE_LIMIT")
	setDuration(&cfg.Webhook.RateWindow, "DCABOT_WEBHOOK_RATE_WINDOW")
	setFloat64(&cfg.Webhook.SafetyBuffer, "DCABOT_WEBHOOK_SAFETY_BUFFER")
	setFloat64(&cfg.Webhook.BaseOrderFactor, "DCABOT_WEBHOOK_BASE_ORDER_FACTOR")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "DCABOT_REDIS_URL")
	setStr(&cfg.Redis.Addr, "DCABOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DCABOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DCABOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DCABOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DCABOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DCABOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DCABOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DCABOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DCABOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DCABOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DCABOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DCABOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DCABOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DCABOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DCABOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DCABOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DCABOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DCABOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DCABOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DCABOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DCABOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DCABOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DCABOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DCABOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DCABOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "DCABOT_S3_PREFIX")

	// ── Server ──
	setInt(&cfg.Server.Port, "DCABOT_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-assigned port
	setStringSlice(&cfg.Server.CORSOrigins, "DCABOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DCABOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DCABOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DCABOT_NOTIFY_TELEGRAM_CHAT_ID")
	setBool(&cfg.Notify.TelegramCommands, "DCABOT_NOTIFY_TELEGRAM_COMMANDS")
	setStr(&cfg.Notify.DiscordWebhookURL, "DCABOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DCABOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "DCABOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "DCABOT_METRICS_PATH")

	// ── Top-level ──
	setStr(&cfg.Mode, "DCABOT_MODE")
	setStr(&cfg.LogLevel, "DCABOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
