package server

import (
	"context"
	"net/http"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/sessions"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeySession stores the validated *sessions.Session
const ContextKeySession ContextKey = "session"

// RequireSession validates the session cookie, refreshing tokens that are about to
// expire. Sessions that can no longer be used get their cookie cleared and a 401.
func (s *Server) RequireSession() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sessionID := s.sessionIDFromCookie(r)
			if sessionID == "" {
				writeError(w, apperrors.ErrSessionNotFound)
				return
			}

			session, err := s.sessions.Validate(r.Context(), sessionID)
			if err != nil {
				s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("session rejected")
				s.clearSessionCookie(w, r)
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, session)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireAdmin must be chained after RequireSession.
func (s *Server) RequireAdmin() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session := sessionFromContext(r.Context())
			if session == nil || !session.User.IsAdmin() {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "Administrator access is required."})
				return
			}
			next(w, r)
		}
	}
}

func sessionFromContext(ctx context.Context) *sessions.Session {
	session, _ := ctx.Value(ContextKeySession).(*sessions.Session)
	return session
}
