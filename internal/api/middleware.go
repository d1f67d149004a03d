// Package api implements the Foxtales REST API using chi.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/starford/foxtales/internal/library"
	"github.com/starford/foxtales/internal/session"
)

// Sessions is the session store the API authenticates against.
type Sessions = session.Store[*library.Service]

// Session is an authenticated user's session.
type Session = session.Session[*library.Service]

type contextKey string

const sessionKey contextKey = "session"

var errNoSession = errors.New("api: no session in context")

// ContextWithSession returns a context carrying s.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session stored by AuthMiddleware.
func SessionFromContext(ctx context.Context) (*Session, error) {
	s, ok := ctx.Value(sessionKey).(*Session)
	if !ok || s == nil {
		return nil, errNoSession
	}
	return s, nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// EventSource clients cannot set headers, so access_token in the query is
// accepted as well.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

// AuthMiddleware returns middleware that resolves the bearer token to a
// session and stores it in the request context. Unknown or expired tokens
// get 401.
func AuthMiddleware(sessions Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			s, err := sessions.Get(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
		})
	}
}

// CORSMiddleware allows origin to call the API. Preflight requests are
// answered with 204. An empty origin disables the headers.
func CORSMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if origin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if origin != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
