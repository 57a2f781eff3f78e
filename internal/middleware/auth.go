package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// openPaths are reachable without credentials so probes and channel
// adapters can verify liveness before configuring a secret.
var openPaths = map[string]struct{}{
	"/":           {},
	"/api":        {},
	"/health":     {},
	"/api/health": {},
}

// BearerAuth returns middleware enforcing a shared-secret bearer token.
// An empty secret disables the check entirely.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, open := openPaths[r.URL.Path]; open {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
