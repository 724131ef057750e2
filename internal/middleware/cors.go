// Package middleware provides HTTP middleware for the sales assistant API.
//
// Only the chat surface is meant for browsers: the widget's origin may call
// /chat, open /ws/chat and read session snapshots, with credentials so the
// session cookie travels. Gateway and bot webhooks are server-to-server and
// never get CORS headers.
package middleware

import (
	"net/http"
	"strings"
)

// serverToServer lists path prefixes that browsers never call.
var serverToServer = []string{"/webhook/", "/telegram/"}

// CORS returns middleware applying the chat origin policy. "*" admits any
// origin but never with credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isServerToServer(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			allowed := origin != "" && (explicit[origin] || wildcard)

			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Session-ID")
				h.Set("Access-Control-Expose-Headers", "X-Session-ID")
				// A wildcard-echoed origin with credentials enables CSRF.
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				if origin != "" && !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isServerToServer(path string) bool {
	for _, p := range serverToServer {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
