// Package logger sets up log/slog for the zone tracker binaries and carries a
// scan run ID through context.Context so every line of one run can be correlated.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

type ctxKey string

const runIDKey ctxKey = "run_id"

// Init builds a JSON logger on stdout tagged with the service name and
// installs it as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	l := New(os.Stdout, "json", service, level)
	slog.SetDefault(l)
	return l
}

// New builds a logger writing to w. format is "json" or "text"; anything else
// falls back to json.
func New(w io.Writer, format, service string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With(slog.String("service", service))
}

// ParseLevel maps debug, info, warn/warning and error (any case) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID stores the run ID in ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID extracts the run ID from ctx. Returns "" if not set.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns base with the context's run ID attached, or base itself
// when there is none.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := RunID(ctx); id != "" {
		return base.With(slog.String("run_id", id))
	}
	return base
}
