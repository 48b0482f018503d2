package httpx

import (
	"net/http"

	"finagg/libs/events"
)

const CorrelationIDHeader = "X-Correlation-Id"

// WithCorrelationID seeds the ambient correlation id for everything the
// request triggers, including events it emits. An explicit header wins,
// otherwise the request id doubles as the correlation id.
func WithCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = RequestIDFromContext(r.Context())
		}
		ctx, id := events.EnsureCorrelationID(events.WithCorrelationID(r.Context(), id))
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
