package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"tunnel-agent/controlplane/internal/model"
)

// HeaderAPIKey carries the shared agent key.
const HeaderAPIKey = "X-API-Key"

// APIKey admits requests whose X-API-Key matches hash, a value made by
// model.HashAPIKey.
func APIKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
			if key == "" || !model.VerifyAPIKey(hash, key) {
				unauthorized(w, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BasicAuth guards the admin UI.
func BasicAuth(user, pass string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || !equal(u, user) || !equal(p, pass) {
				unauthorized(w, `Basic realm="controlplane"`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func unauthorized(w http.ResponseWriter, challenge string) {
	if challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
