// Package server wires the webhook, operator API, metrics and WebSocket
// routes onto one net/http server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/Runner89/mexc-trading-bot/internal/server/handler"
	"github.com/Runner89/mexc-trading-bot/internal/server/middleware"
	"github.com/Runner89/mexc-trading-bot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	APIKey        string // operator API; empty disables auth
	WebhookSecret string // empty disables the check
	WebhookPath   string
	RateLimit     int // webhook requests per client per RateWindow; 0 disables
	RateWindow    time.Duration
	MetricsPath   string // empty disables /metrics

	// WebhookTimeout is the engine budget of one webhook. The write
	// deadline is kept above it so the result still reaches the caller.
	WebhookTimeout time.Duration
}

// writeMargin is added to the webhook budget for encoding the response.
const writeMargin = 30 * time.Second

func writeTimeout(webhook time.Duration) time.Duration {
	if webhook <= 0 {
		return 2 * time.Minute
	}
	return webhook + writeMargin
}

// Handlers aggregates the HTTP handlers. Events and Hub may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Webhook *handler.WebhookHandler
	Bots    *handler.BotHandler
	Events  *handler.EventsHandler
	Hub     *ws.Hub
}

// Server is the webhook receiver and operator API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and the middleware chain.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           Routes(cfg, h, limiter, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      writeTimeout(cfg.WebhookTimeout),
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the handler tree. It is exported for tests.
func Routes(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	webhookPath := cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook"
	}
	var webhook http.Handler = http.HandlerFunc(h.Webhook.Receive)
	webhook = middleware.WebhookSecret(cfg.WebhookSecret)(webhook)
	webhook = middleware.RateLimit(limiter, "webhook", cfg.RateLimit, cfg.RateWindow, logger)(webhook)
	mux.Handle("POST "+webhookPath, webhook)

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	auth := middleware.Auth(cfg.APIKey)
	mux.Handle("GET /api/bots/{symbol}/{bot}", auth(http.HandlerFunc(h.Bots.Get)))
	mux.Handle("POST /api/bots/{symbol}/{bot}/resume", auth(http.HandlerFunc(h.Bots.Resume)))
	if h.Events != nil {
		mux.Handle("GET /api/events", auth(http.HandlerFunc(h.Events.List)))
	}
	if cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}
	if h.Hub != nil {
		mux.Handle("GET /ws", auth(http.HandlerFunc(h.Hub.HandleWS)))
	}

	var root http.Handler = mux
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)
	return root
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
