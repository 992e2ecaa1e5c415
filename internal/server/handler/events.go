package handler

import (
	"log/slog"
	"net/http"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// EventsHandler lists journaled webhook events.
type EventsHandler struct {
	store  domain.EventStore
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(store domain.EventStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{store: store, logger: logger.With(slog.String("handler", "events"))}
}

type listEventsResponse struct {
	Events []domain.EventRecord `json:"events"`
}

// List returns events newest first.
// GET /api/events?symbol=&bot=&since=&until=&limit=&offset=
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.EventRecord{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}
