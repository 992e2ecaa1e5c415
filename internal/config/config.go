// Package config defines the top-level configuration for the dcabot
// webhook engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DCABOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Engine   EngineConfig   `toml:"engine"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds the BingX REST endpoint and the paper account.
type ExchangeConfig struct {
	BaseURL   string   `toml:"base_url"`
	Timeout   duration `toml:"timeout"`
	Precision int      `toml:"precision"`

	// PaperBalance is the starting margin of every simulated account.
	PaperBalance float64 `toml:"paper_balance"`
	// PaperTick is how often simulated accounts pull live prices.
	PaperTick duration `toml:"paper_tick"`
	// QuoteMaxAge bounds how stale a cached quote may be in paper mode.
	QuoteMaxAge duration `toml:"quote_max_age"`
}

// EngineConfig holds the tunables shared by every bot identity.
type EngineConfig struct {
	CallTimeout            duration `toml:"call_timeout"`
	SettleDelay            duration `toml:"settle_delay"`
	RetryBackoffMin        duration `toml:"retry_backoff_min"`
	RetryBackoffMax        duration `toml:"retry_backoff_max"`
	FallbackEpsilonPercent float64  `toml:"fallback_epsilon_percent"`
	AllowMissingStopLoss   bool     `toml:"allow_missing_stop_loss"`
	AlertAfterSafetyOrders int      `toml:"alert_after_safety_orders"`
	LockTTL                duration `toml:"lock_ttl"`
	LockWait               duration `toml:"lock_wait"`
	// LedgerTTL expires idle ledger records. Zero keeps them forever.
	LedgerTTL duration `toml:"ledger_ttl"`
}

// WebhookConfig holds the inbound signal endpoint parameters.
type WebhookConfig struct {
	Path string `toml:"path"`

	// Secret is compared against the X-Webhook-Secret header. SecretFile
	// points at a password-sealed secret instead.
	Secret         string `toml:"secret"`
	SecretFile     string `toml:"secret_file"`
	SecretPassword string `toml:"secret_password"`

	// Idempotency is "off" or "key".
	Idempotency    string   `toml:"idempotency"`
	IdempotencyTTL duration `toml:"idempotency_ttl"`

	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	Timeout    duration `toml:"timeout"`

	// Defaults for payloads that omit the fields.
	SafetyBuffer    float64 `toml:"safety_buffer"`
	BaseOrderFactor float64 `toml:"base_order_factor"`
}

// RedisConfig holds Redis connection parameters. An empty URL and Addr
// keep all state in process memory.
type RedisConfig struct {
	URL        string `toml:"url"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Addr) != ""
}

// PostgresConfig holds the event journal connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the event
// archive.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	FlushInterval  duration `toml:"flush_interval"`
	MaxBatch       int      `toml:"max_batch"`
	PartSize       int64    `toml:"part_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	// TelegramCommands enables /status and /resume in the alert chat.
	TelegramCommands  bool     `toml:"telegram_commands"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	TitlePrefix       string   `toml:"title_prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:      "https://open-api.bingx.com",
			Timeout:      duration{10 * time.Second},
			Precision:    6,
			PaperBalance: 1000,
			PaperTick:    duration{5 * time.Second},
			QuoteMaxAge:  duration{3 * time.Second},
		},
		Engine: EngineConfig{
			CallTimeout:            duration{10 * time.Second},
			SettleDelay:            duration{2 * time.Second},
			RetryBackoffMin:        duration{200 * time.Millisecond},
			RetryBackoffMax:        duration{2 * time.Second},
			FallbackEpsilonPercent: 0.25,
			AlertAfterSafetyOrders: 5,
			LockTTL:                duration{3 * time.Minute},
			LockWait:               duration{30 * time.Second},
			LedgerTTL:              duration{30 * 24 * time.Hour},
		},
		Webhook: WebhookConfig{
			Path:            "/webhook",
			Idempotency:     "off",
			IdempotencyTTL:  duration{24 * time.Hour},
			RateLimit:       60,
			RateWindow:      duration{time.Minute},
			Timeout:         duration{2 * time.Minute},
			SafetyBuffer:    0,
			BaseOrderFactor: 1,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dcabot",
			User:          "dcabot",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:        "us-east-1",
			Bucket:        "dcabot",
			UseSSL:        true,
			Prefix:        "dcabot",
			FlushInterval: duration{time.Minute},
			MaxBatch:      500,
			PartSize:      5 * 1024 * 1024,
		},
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events:      []string{"alert", "lifecycle"},
			TitlePrefix: "dcabot",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validIdempotency = map[string]bool{
	"off": true,
	"key": true,
}

// Validate checks the Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if strings.ToLower(c.Mode) == "live" && strings.TrimSpace(c.Exchange.BaseURL) == "" {
		errs = append(errs, "exchange: base_url must not be empty in live mode")
	}
	if c.Exchange.Timeout.Duration <= 0 {
		errs = append(errs, "exchange: timeout must be > 0")
	}
	if c.Exchange.Precision < 0 || c.Exchange.Precision > 12 {
		errs = append(errs, fmt.Sprintf("exchange: precision must be 0-12, got %d", c.Exchange.Precision))
	}
	if strings.ToLower(c.Mode) == "paper" {
		if c.Exchange.PaperBalance <= 0 {
			errs = append(errs, "exchange: paper_balance must be > 0")
		}
		if c.Exchange.PaperTick.Duration <= 0 {
			errs = append(errs, "exchange: paper_tick must be > 0")
		}
	}

	// Engine
	if c.Engine.CallTimeout.Duration <= 0 {
		errs = append(errs, "engine: call_timeout must be > 0")
	}
	if c.Engine.SettleDelay.Duration < 0 {
		errs = append(errs, "engine: settle_delay must not be negative")
	}
	if c.Engine.RetryBackoffMin.Duration <= 0 || c.Engine.RetryBackoffMax.Duration < c.Engine.RetryBackoffMin.Duration {
		errs = append(errs, "engine: retry_backoff_min must be > 0 and not exceed retry_backoff_max")
	}
	if c.Engine.FallbackEpsilonPercent < 0 {
		errs = append(errs, "engine: fallback_epsilon_percent must not be negative")
	}
	if c.Engine.AlertAfterSafetyOrders < 0 {
		errs = append(errs, "engine: alert_after_safety_orders must not be negative")
	}
	if c.Engine.LockTTL.Duration <= c.Webhook.Timeout.Duration {
		errs = append(errs, fmt.Sprintf("engine: lock_ttl (%s) must exceed webhook.timeout (%s)",
			c.Engine.LockTTL.Duration, c.Webhook.Timeout.Duration))
	}
	if c.Engine.LockWait.Duration < 0 {
		errs = append(errs, "engine: lock_wait must not be negative")
	}

	// Webhook
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		errs = append(errs, fmt.Sprintf("webhook: path must start with /, got %q", c.Webhook.Path))
	}
	if c.Webhook.SecretFile != "" && c.Webhook.SecretPassword == "" {
		errs = append(errs, "webhook: secret_password is required when secret_file is set")
	}
	if !validIdempotency[strings.ToLower(c.Webhook.Idempotency)] {
		errs = append(errs, fmt.Sprintf("webhook: unknown idempotency %q (valid: off, key)", c.Webhook.Idempotency))
	}
	if c.Webhook.RateLimit > 0 && c.Webhook.RateWindow.Duration <= 0 {
		errs = append(errs, "webhook: rate_window must be > 0 when rate_limit is set")
	}
	if c.Webhook.SafetyBuffer < 0 {
		errs = append(errs, "webhook: safety_buffer must not be negative")
	}
	if c.Webhook.BaseOrderFactor <= 0 {
		errs = append(errs, "webhook: base_order_factor must be > 0")
	}

	// Redis
	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.FlushInterval.Duration <= 0 {
			errs = append(errs, "s3: flush_interval must be > 0")
		}
		if c.S3.MaxBatch < 1 {
			errs = append(errs, "s3: max_batch must be >= 1")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.TelegramCommands && c.Notify.TelegramToken == "" {
		errs = append(errs, "notify: telegram_commands needs telegram_token")
	}

	// Metrics
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics: path must start with /, got %q", c.Metrics.Path))
	}
	if c.Metrics.Enabled && c.Metrics.Path == c.Webhook.Path {
		errs = append(errs, "metrics: path must differ from webhook.path")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
