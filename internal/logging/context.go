// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	callKey ctxKey = iota
	turnKey
	requestIDKey
)

// Call identifies the live phone call a log line belongs to.
type Call struct {
	TenantID string
	CallID   string
}

// WithCall attaches call identity to the context.
func WithCall(ctx context.Context, c Call) context.Context {
	return context.WithValue(ctx, callKey, c)
}

// CallFromContext returns the call identity, if any.
func CallFromContext(ctx context.Context) (Call, bool) {
	c, ok := ctx.Value(callKey).(Call)
	return c, ok
}

// WithTurn attaches the 1-based turn index being processed.
func WithTurn(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, turnKey, index)
}

// WithRequestID attaches an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if c, ok := CallFromContext(ctx); ok {
		if c.TenantID != "" {
			fields = append(fields, zap.String("tenant.id", c.TenantID))
		}
		if c.CallID != "" {
			fields = append(fields, zap.String("call.id", c.CallID))
		}
	}
	if idx, ok := ctx.Value(turnKey).(int); ok {
		fields = append(fields, zap.Int("turn.index", idx))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}
