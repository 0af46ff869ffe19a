package loggy

import (
	"context"

	"github.com/tildaslashalef/tether/internal/ulid"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	runIDKey  contextKey = "run_id"
)

// FromContext returns the logger stored in ctx, or the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return globalLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok && logger != nil {
		return logger
	}
	return globalLogger
}

// WithLogger returns a new context carrying logger
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRunID tags ctx with a sync run id and attaches a logger carrying it.
// An empty runID generates a fresh one.
func WithRunID(ctx context.Context, runID string) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if runID == "" {
		runID = ulid.RunID()
	}
	ctx = context.WithValue(ctx, runIDKey, runID)
	return WithLogger(ctx, FromContext(ctx).With("run_id", runID)), runID
}

// GetRunID returns the sync run id stored in ctx
func GetRunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}
