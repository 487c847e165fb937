package tracing

import (
	"context"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/id"
)

// TraceID correlates one diagnostics request across log lines.
type TraceID string

// Header carries the trace id on requests and responses.
const Header = "X-Trace-ID"

type contextKey struct{}

// NewTraceID returns a fresh, time-ordered trace id.
func NewTraceID() TraceID {
	return TraceID(id.Default().GenerateWithPrefix("trace"))
}

// WithTraceID stores id in ctx.
func WithTraceID(ctx context.Context, id TraceID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the trace id stored in ctx, or "".
func FromContext(ctx context.Context) TraceID {
	id, _ := ctx.Value(contextKey{}).(TraceID)
	return id
}
