package common

import (
	"context"
	"time"
)

type contextKey string

const ContextKeyRequestID contextKey = "request_id"

// WithRequestID tags ctx with the id assigned by the HTTP or gRPC edge.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// RequestIDFromContext returns the request id or "" when none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

// Detached keeps ctx's values but drops its cancellation, bounded by timeout.
// Used for writes that must outlive a cancelled request.
func Detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
