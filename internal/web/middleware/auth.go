package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireAPIKey is middleware that requires the configured API key on
// every request, either as an X-API-Key header or a bearer token. An
// empty configured key disables authentication entirely.
func RequireAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
