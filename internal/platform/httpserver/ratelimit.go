package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/example/chess-academy/internal/platform/api"
	"github.com/example/chess-academy/internal/platform/auth"
)

// RateLimit limits requests per key within a sliding window.
// keyFunc defaults to KeyBySubject.
func RateLimit(limit int, window time.Duration, keyFunc httprate.KeyFunc) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = KeyBySubject
	}
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			api.RateLimited(w, "RATE_LIMITED", "Too many requests", RequestIDFromContext(r.Context()), nil)
		}),
	)
}

// KeyBySubject keys on the authenticated subject and falls back to the client IP.
// It must run after auth.RequireUser to see the subject.
func KeyBySubject(r *http.Request) (string, error) {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok && uid != "" {
		return "subject:" + uid, nil
	}
	return httprate.KeyByIP(r)
}
