// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	// AnonCookieName is the cookie carrying the anonymous client identity.
	AnonCookieName   = "coach_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const clientIDKey contextKey = iota

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// ClientIDFromContext extracts the client identity from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware assigns each client a stable identity used as the
// admission-control key. Returning clients present their cookie; requests
// without one are keyed by the resolved remote address, so clients that
// never retain cookies (webhook adapters, curl) still share one admission
// window per host.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
				id = c.Value
			}

			if id == "" {
				// A freshly minted id cannot key this request: a client that
				// discards cookies would present a new identity every time.
				// Key by address and let the cookie take over once it comes
				// back.
				id = clientAddr(r)
				if generated, err := generateAnonID(); err != nil {
					slog.Warn("failed to generate anonymous id", "error", err)
				} else {
					http.SetCookie(w, &http.Cookie{
						Name:     AnonCookieName,
						Value:    generated,
						Path:     "/",
						MaxAge:   int(anonCookieMaxAge.Seconds()),
						Expires:  time.Now().Add(anonCookieMaxAge),
						HttpOnly: true,
						SameSite: http.SameSiteLaxMode,
						Secure:   !isDev,
					})
				}
			}

			ctx := context.WithValue(r.Context(), clientIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
