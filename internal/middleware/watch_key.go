package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/interpark/mikage/internal/api"
)

// WatchKeyMiddleware guards the watch trigger endpoint with a shared key.
// The scheduler that fires the trigger is a dumb cron HTTP call, so the key
// travels as a query parameter rather than a header.
type WatchKeyMiddleware struct {
	key string
}

// NewWatchKeyMiddleware creates the guard. An empty key disables the check,
// which is only acceptable in local development.
func NewWatchKeyMiddleware(key string) *WatchKeyMiddleware {
	if key == "" {
		log.Printf("WatchKeyMiddleware: WATCH_KEY is empty, trigger endpoint is unprotected")
	}
	return &WatchKeyMiddleware{key: key}
}

// Wrap wraps the trigger handler with the key check.
func (m *WatchKeyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.key != "" && !m.validKey(r.URL.Query().Get("key")) {
			log.Printf("WatchKeyMiddleware: invalid key from %s", r.RemoteAddr)
			api.RespondError(w, http.StatusUnauthorized, "Invalid key.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WrapFunc wraps an http.HandlerFunc with the key check.
func (m *WatchKeyMiddleware) WrapFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.Wrap(http.HandlerFunc(next)).ServeHTTP(w, r)
	}
}

// validKey compares in constant time to avoid leaking the key via timing.
func (m *WatchKeyMiddleware) validKey(provided string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(m.key)) == 1
}
