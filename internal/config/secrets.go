package config

import (
	"fmt"

	"github.com/Runner89/mexc-trading-bot/internal/crypto"
)

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Webhook
	redact(&out.Webhook.Secret)
	redact(&out.Webhook.SecretPassword)

	// Redis
	redact(&out.Redis.URL)
	redact(&out.Redis.Password)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

// WebhookSecret resolves the shared webhook secret from the inline value or
// the sealed secret file. An empty result disables the header check.
func (c *Config) WebhookSecret() (string, error) {
	src := crypto.SecretSource{
		Raw:      c.Webhook.Secret,
		Path:     c.Webhook.SecretFile,
		Password: c.Webhook.SecretPassword,
	}
	secret, err := src.Load()
	if err != nil {
		return "", fmt.Errorf("config: webhook secret: %w", err)
	}
	return secret, nil
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
