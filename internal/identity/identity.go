// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	ClientCookieName = "classroom_client_id"
	clientCookieAge  = 30 * 24 * time.Hour
)

type contextKey int

const clientIDKey contextKey = iota

var clientIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientID returns ctx carrying id.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

func generateClientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidClientID reports whether id has the shape issued by the middleware.
func IsValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(ClientCookieName); err == nil && IsValidClientID(c.Value) {
		id = c.Value
	} else {
		if id, err = generateClientID(); err != nil {
			return "", err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientCookieAge.Seconds()),
		Expires:  time.Now().Add(clientCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// Middleware assigns every browser an anonymous client ID cookie and puts the
// ID in the request context. Transcripts are filed under it.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := getOrCreateClientID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
