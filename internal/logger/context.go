package logger

import (
	"context"
	"log/slog"
	"time"
)

type contextKey string

const (
	requestIDContextKey contextKey = "requestID"
)

// RequestIDLogField is the root-level log attribute carrying the request ID.
const RequestIDLogField = "request_id"

// WithRequestID returns a context carrying the given request ID.
// Server middleware calls this for every inbound request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// GetRequestID extracts the request ID from the context.
// Returns the empty string when none is set.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey).(string); ok {
		return requestID
	}

	return ""
}

// DeriveRequestLogger returns a logger enriched with request-scoped fields
// available in the provided context.
func DeriveRequestLogger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}

	if requestID := GetRequestID(ctx); requestID != "" {
		return base.With(RequestIDLogField, requestID)
	}

	return base
}

// GetDeadlineInfo returns logging attributes for context deadline information.
// Returns the absolute deadline time and remaining duration if set, or "none" if no deadline.
func GetDeadlineInfo(ctx context.Context) []any {
	deadline, ok := ctx.Deadline()
	if !ok {
		return []any{"deadline", "none", "deadline_remaining", "none"}
	}

	remaining := time.Until(deadline)
	return []any{
		"deadline", deadline.Format(time.RFC3339),
		"deadline_remaining", remaining.String(),
	}
}
