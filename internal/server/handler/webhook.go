package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/Runner89/mexc-trading-bot/internal/signal"
)

// maxWebhookBody caps the size of a webhook payload.
const maxWebhookBody = 64 << 10

// EventHandler processes one normalized webhook event.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.Event) (domain.EventResult, error)
}

// WebhookHandler serves the inbound webhook.
type WebhookHandler struct {
	engine   EventHandler
	defaults signal.Defaults
	timeout  time.Duration
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. timeout bounds one event end
// to end; zero means no bound beyond the request context.
func NewWebhookHandler(engine EventHandler, defaults signal.Defaults, timeout time.Duration, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		engine:   engine,
		defaults: defaults,
		timeout:  timeout,
		logger:   logger.With(slog.String("handler", "webhook")),
	}
}

// Receive parses the payload, runs the engine and answers with the full
// event result.
// POST /webhook
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	ev, err := signal.Parse(body, h.defaults)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rejected payload", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.ID = uuid.NewString()
	ev.ReceivedAt = time.Now().UTC()

	// The engine must finish an event it has started even if the caller
	// disconnects, or exit orders could be left half placed.
	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.engine.Handle(ctx, ev)
	writeJSON(w, statusFor(err), res)
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
