// Package requesttime provides middleware for request-scoped time.
// All operations within a single submission use the same "now" timestamp, so
// every attribute accepted by one merge carries the same last_modified.
package requesttime

import (
	"net/http"
	"time"

	"cis/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context for consistent time references throughout the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
