// Package middleware provides HTTP middleware for the classroom server.
package middleware

import (
	"net/http"
	"slices"
)

// Origins is a browser origin allow-list. "*" admits any origin but never
// grants credentials.
type Origins []string

// Allows reports whether origin may read responses.
func (o Origins) Allows(origin string) bool {
	return origin != "" && (slices.Contains(o, "*") || slices.Contains(o, origin))
}

// credentialed reports whether origin is listed explicitly.
func (o Origins) credentialed(origin string) bool {
	return origin != "*" && slices.Contains(o, origin)
}

// CORS answers preflights and sets the CORS headers for allowed origins.
// Only GET is advertised. A preflight from an origin outside the list is
// refused with 403.
func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			allowed := origins.Allows(origin)
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				if origins.credentialed(origin) {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
