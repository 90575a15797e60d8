package request

import (
	"context"
	"net/http"
	"strings"

	"github.com/benvon/letmeask/internal/bridge"
	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/session"
)

type contextKey string

const sessionContextKey contextKey = "session"

// ClientIP extracts the client IP from the request, respecting X-Forwarded-For and X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}

// WithSession returns a context carrying the caller's browser session.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext returns the caller's session, or nil when the request has none.
func SessionFromContext(r *http.Request) *session.Session {
	s, _ := r.Context().Value(sessionContextKey).(*session.Session)
	return s
}

// AuthFromContext returns the value the caller's bridge publishes. ok is false without a session.
func AuthFromContext(r *http.Request) (bridge.Value, bool) {
	s := SessionFromContext(r)
	if s == nil {
		return bridge.Value{}, false
	}
	return s.Value(), true
}

// UserFromContext returns the caller's signed-in user, or nil.
func UserFromContext(r *http.Request) *models.User {
	s := SessionFromContext(r)
	if s == nil {
		return nil
	}
	return s.User()
}
