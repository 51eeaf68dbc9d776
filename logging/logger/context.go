package logger

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	traceKey                = "trace_id"
	traceCtxKey  contextKey = traceKey
	extensionKey contextKey = ExtensionKey
)

// getTraceID gets a trace ID from the context.
func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceCtxKey).(string); ok {
		return traceID
	}
	return ""
}

// SetTraceID sets a trace ID to the context.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceCtxKey, traceID)
}

// EnsureTraceID ensures that a trace ID exists in the context.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if traceID := getTraceID(ctx); traceID != "" {
		return ctx, traceID
	}
	traceID := uuid.NewString()
	return SetTraceID(ctx, traceID), traceID
}

// WithExtension tags the context so log entries carry the extension name.
func WithExtension(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, extensionKey, name)
}

func getExtension(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if name, ok := ctx.Value(extensionKey).(string); ok {
		return name
	}
	return ""
}
