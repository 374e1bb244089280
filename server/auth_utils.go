package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/sessions"
)

// authStateCookieName binds an in-flight Microsoft sign-in to the browser that started it
const authStateCookieName = "portal_auth_state"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, session *sessions.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return apperrors.ErrSessionExpired
	}
	value, err := s.tokens.Issue(session.ID, ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookieName(),
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
	return nil
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// sessionIDFromCookie returns the session ID named by a valid session cookie, or "".
func (s *Server) sessionIDFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(s.config.GetSessionCookieName())
	if err != nil || cookie.Value == "" {
		return ""
	}
	sessionID, err := s.tokens.Parse(cookie.Value)
	if err != nil {
		return ""
	}
	return sessionID
}

func (s *Server) setAuthStateCookie(w http.ResponseWriter, r *http.Request, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authStateCookieName,
		Value:    state,
		Path:     RouteCallback,
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.GetAuthFlowTTL().Seconds()),
	})
}

func authStateFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(authStateCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// safeReturnTo only accepts same-origin absolute paths so the callback cannot be used
// as an open redirect.
func safeReturnTo(returnTo string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") || strings.ContainsAny(returnTo, "\\\r\n") {
		return ""
	}
	u, err := url.Parse(returnTo)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return returnTo
}

// writeError maps err onto a status and a user-facing message. Internal detail never
// reaches the response.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), errorBody{Error: errorCode(err), Message: apperrors.UserMessage(err)})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrConfiguration):
		return "not_configured"
	case errors.Is(err, apperrors.ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, apperrors.ErrAuthorization):
		return "access_denied"
	case errors.Is(err, apperrors.ErrUnauthorizedDomain):
		return "unauthorized_domain"
	case errors.Is(err, apperrors.ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, apperrors.ErrSessionExpired), errors.Is(err, apperrors.ErrSessionNotFound), errors.Is(err, apperrors.ErrTokenRefresh):
		return "session_expired"
	case errors.Is(err, apperrors.ErrTokenExchange), errors.Is(err, apperrors.ErrProfileFetch):
		return "authentication_failed"
	case errors.Is(err, apperrors.ErrMissingAuthParameter):
		return "invalid_request"
	default:
		return "internal_error"
	}
}

// redirectSuccess helper for htmx-aware success redirects
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	if isHTMXRequest(r) {
		w.Header().Set("HX-Redirect", path)
		w.WriteHeader(http.StatusNoContent) // 204 - no content, just redirect instruction
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// redirectWithError helper for htmx-aware error redirects
func redirectWithError(w http.ResponseWriter, r *http.Request, path string, err error) {
	fullPath := path + "?error=" + url.QueryEscape(errorCode(err)) + "&message=" + url.QueryEscape(apperrors.UserMessage(err))

	if isHTMXRequest(r) {
		w.Header().Set("HX-Redirect", fullPath)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, fullPath, http.StatusSeeOther)
}

// isHTMXRequest checks if the request was initiated by HTMX
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON reports whether the caller is the portal's script rather than a form post.
func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
