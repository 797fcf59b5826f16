package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit caps callers per minute on the operator and client APIs. Buckets
// are keyed by client IP and top-level path segment, so heavy triage traffic
// on /internal never starves checkout confirmation on /api.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, keyBySurface),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeAuthError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
		}),
	)
}

func keyBySurface(r *http.Request) (string, error) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path, nil
}
