package middleware

import (
	"net/http"

	"github.com/groundplane/groundplane/internal/api"
)

// MaxBodyBytes caps request body size. Requests that declare an oversized
// Content-Length are rejected up front; chunked bodies are capped by a
// MaxBytesReader so a handler read past the limit fails instead of the
// process buffering unbounded input. A limit of zero disables the cap.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Body == nil:
			case r.ContentLength > limit:
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			default:
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
