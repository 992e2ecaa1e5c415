package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/Runner89/mexc-trading-bot/internal/engine"
)

// BotEngine exposes per-bot state for operators.
type BotEngine interface {
	Snapshot(ctx context.Context, id domain.BotIdentity) (engine.BotSnapshot, error)
	Resume(ctx context.Context, id domain.BotIdentity) error
}

// BotHandler serves bot inspection and control endpoints.
type BotHandler struct {
	engine BotEngine
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(engine BotEngine, logger *slog.Logger) *BotHandler {
	return &BotHandler{engine: engine, logger: logger.With(slog.String("handler", "bots"))}
}

// Get returns the in-memory state and exit pair of one bot.
// GET /api/bots/{symbol}/{bot}
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identityParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "symbol and bot are required")
		return
	}
	snap, err := h.engine.Snapshot(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "bot not seen since start")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Resume clears the stop flag of one bot.
// POST /api/bots/{symbol}/{bot}/resume
func (h *BotHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := identityParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "symbol and bot are required")
		return
	}
	if err := h.engine.Resume(r.Context(), id); err != nil {
		h.logger.ErrorContext(r.Context(), "resume failed",
			slog.String("identity", id.Key()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"error": false, "resumed": id.String()})
}
