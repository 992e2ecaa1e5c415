package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// trail collects the human-readable steps of one event and mirrors each
// step to the structured logger.
type trail struct {
	logger *slog.Logger
	lines  []string
}

func newTrail(logger *slog.Logger) *trail {
	return &trail{logger: logger}
}

func (t *trail) info(ctx context.Context, format string, args ...any) {
	if t == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	t.lines = append(t.lines, line)
	t.logger.InfoContext(ctx, line)
}

func (t *trail) warn(ctx context.Context, format string, args ...any) {
	if t == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	t.lines = append(t.lines, "WARN: "+line)
	t.logger.WarnContext(ctx, line)
}

func (t *trail) fail(ctx context.Context, err error, format string, args ...any) {
	if t == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	t.lines = append(t.lines, "ERROR: "+line+": "+err.Error())
	t.logger.ErrorContext(ctx, line, slog.String("error", err.Error()))
}

func (t *trail) snapshot() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
