package events

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const ctxKeyCorrelationID ctxKey = iota

// CorrelationHeader is the broker header the correlation id also travels in,
// so non-Go consumers and log pipelines can read it without parsing the body.
const CorrelationHeader = "correlation_id"

// WithCorrelationID returns a child context carrying id. The parent context is
// untouched, so the previous value is restored for free when the child scope
// ends, on every exit path.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationID returns the ambient correlation id, or "" if none is set.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return v
}

// EnsureCorrelationID returns the ambient correlation id, generating and
// attaching a fresh one when the context carries none.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}
