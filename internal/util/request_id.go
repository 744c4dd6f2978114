package util

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const (
	// RequestIDHeader is attached to every outbound call.
	RequestIDHeader = "X-Request-Id"

	requestIDCtxKey = contextKey("request_id")
	loggerCtxKey    = contextKey("logger")
)

// WithRequestID returns a context carrying id, or a generated id when empty.
// A child slog.Logger carrying "request_id" is stored alongside it so that
// downstream code can call LoggerFromContext(ctx).
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewID()
	}
	ctx = context.WithValue(ctx, requestIDCtxKey, id)
	return ContextWithLogger(ctx, LoggerFromContext(ctx).With("request_id", id))
}

// RequestIDFromContext returns request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// SetRequestID stamps req with the context's request id, generating one when
// the context has none. It returns the id used.
func SetRequestID(req *http.Request) string {
	if req == nil {
		return ""
	}
	if existing := strings.TrimSpace(req.Header.Get(RequestIDHeader)); existing != "" {
		return existing
	}
	id := RequestIDFromContext(req.Context())
	if id == "" {
		id = NewID()
	}
	req.Header.Set(RequestIDHeader, id)
	return id
}

// ContextWithLogger stores l in ctx.
func ContextWithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the logger stored in ctx or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerCtxKey).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
