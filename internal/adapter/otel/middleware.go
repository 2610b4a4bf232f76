package otel

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untraced paths are polled by health checks and scrapers.
var untraced = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// HTTPMiddleware traces requests as server spans named after the chi route
// pattern, so /api/v1/pipelines/{id} is one span name rather than one per id.
// Health and metrics scrapes are not traced.
func HTTPMiddleware(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(withPattern(next), operation,
			otelhttp.WithSpanNameFormatter(spanName),
			otelhttp.WithFilter(func(r *http.Request) bool { return !untraced[r.URL.Path] }),
		)
	}
}

// spanName is the operation until the request is routed.
func spanName(operation string, r *http.Request) string {
	if p := r.Pattern; p != "" {
		return r.Method + " " + p
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return r.Method + " " + p
		}
	}
	return operation
}

// withPattern copies the routed pattern onto the request otelhttp holds.
// otelhttp renames the span after the handler only when Pattern is set, and
// middleware that rebuilds the request hides chi's own assignment.
func withPattern(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if r.Pattern != "" {
			return
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			r.Pattern = rctx.RoutePattern()
		}
	})
}
