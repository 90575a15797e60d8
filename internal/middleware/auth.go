package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/benvon/letmeask/internal/request"
	"github.com/benvon/letmeask/internal/session"
	"go.uber.org/zap"
)

// SessionSource resolves browser sessions.
type SessionSource interface {
	Lookup(ctx context.Context, id string) (*session.Session, error)
	Create(ctx context.Context) (*session.Session, error)
}

// Auth attaches the caller's browser session, if the session cookie names
// one, to the request context. Handlers read it through the request package.
// A cookie naming no session is cleared.
func Auth(sessions SessionSource, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := session.ReadCookie(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			s, err := sessions.Lookup(r.Context(), id)
			switch {
			case err == nil:
				r = r.WithContext(request.WithSession(r.Context(), s))
			case errors.Is(err, session.ErrNotFound):
				session.ClearCookie(w, r)
			default:
				logger.Warn("session_lookup_failed",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StartSession gives callers without a session a new one and sets its
// cookie. It must run after Auth.
func StartSession(sessions SessionSource, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if request.SessionFromContext(r) != nil {
				next.ServeHTTP(w, r)
				return
			}

			s, err := sessions.Create(r.Context())
			if err != nil {
				logger.Error("failed_to_create_session", zap.Error(err))
				respondErrorJSON(w, r, http.StatusServiceUnavailable, "Service Unavailable", "Sign-in is not available right now", logger)
				return
			}
			session.WriteCookie(w, r, s.ID())
			next.ServeHTTP(w, r.WithContext(request.WithSession(r.Context(), s)))
		})
	}
}

// RequireUser rejects requests whose session has nobody signed in.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if request.UserFromContext(r) == nil {
			respondErrorJSON(w, r, http.StatusUnauthorized, "Unauthorized", "Nobody is signed in", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
