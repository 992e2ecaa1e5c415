// Package handler implements the HTTP endpoints of the webhook server.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body in the shape webhook callers expect.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": true, "message": msg})
}

// parseListOpts reads limit (default 50, max 500), offset, symbol, bot and
// RFC 3339 since/until from the query string.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit:  50,
		Symbol: q.Get("symbol"),
		Bot:    q.Get("bot"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%s: %w", p.name, err)
		}
		*p.dst = &t
	}
	return opts, nil
}

// identityParam builds a bot identity from the {symbol} and {bot} path
// values.
func identityParam(r *http.Request) (domain.BotIdentity, bool) {
	id := domain.BotIdentity{Symbol: strings.ToUpper(r.PathValue("symbol")), BotName: r.PathValue("bot")}
	return id, id.Symbol != "" && id.BotName != ""
}
