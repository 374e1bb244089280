package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/internal/utils"
	"github.com/nextphaseit/portal-identity/sessions"
	"github.com/nextphaseit/portal-identity/tenants"
	"github.com/nextphaseit/portal-identity/users"
)

var (
	themes    = map[string]struct{}{"light": {}, "dark": {}, "system": {}}
	languages = map[string]struct{}{"en": {}, "es": {}, "fr": {}, "de": {}, "pt": {}}
)

type sessionResponse struct {
	User      users.PublicUser `json:"user"`
	State     sessions.State   `json:"state"`
	ExpiresAt time.Time        `json:"expires_at"`
	Tenant    *tenantSummary   `json:"tenant,omitempty"`
	ReturnTo  string           `json:"return_to,omitempty"`
}

type tenantSummary struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Branding tenants.Branding `json:"branding"`
	Features tenants.Features `json:"features"`
}

func (s *Server) sessionBody(session *sessions.Session) sessionResponse {
	resp := sessionResponse{
		User:      session.User.Public(),
		State:     session.State,
		ExpiresAt: session.ExpiresAt,
		ReturnTo:  safeReturnTo(session.ReturnTo),
	}
	if t, err := s.sessions.Resolver().Registry().Get(session.User.TenantID); err == nil {
		resp.Tenant = &tenantSummary{ID: t.ID, Name: t.Name, Branding: t.Branding, Features: t.Features}
	}
	return resp
}

// MicrosoftLoginHandler starts the PKCE sign-in and redirects to Entra ID.
func (s *Server) MicrosoftLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.sessions.MicrosoftEnabled() {
			writeError(w, &apperrors.ConfigurationError{Missing: []string{"entra"}})
			return
		}

		q := r.URL.Query()
		redirect, err := s.sessions.BeginMicrosoftLogin(r.Context(), sessions.LoginOptions{
			ReturnTo:   safeReturnTo(q.Get("return_to")),
			Prompt:     q.Get("prompt"),
			DomainHint: q.Get("domain_hint"),
			LoginHint:  q.Get("login_hint"),
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to start microsoft sign-in")
			writeError(w, err)
			return
		}

		s.setAuthStateCookie(w, r, redirect.State)
		http.Redirect(w, r, redirect.URL, http.StatusFound)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ReturnTo string `json:"return_to"`
}

// LocalLoginHandler signs in with a configured local account. It accepts JSON or a
// form post.
func (s *Server) LocalLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		jsonRequest := wantsJSON(r)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Email and password are required."})
				return
			}
		} else {
			req = loginRequest{Email: r.FormValue("email"), Password: r.FormValue("password"), ReturnTo: r.FormValue("return_to")}
		}
		if strings.TrimSpace(req.Email) == "" || req.Password == "" {
			err := fmt.Errorf("email and password: %w", apperrors.ErrInvalidCredentials)
			if jsonRequest {
				writeError(w, err)
			} else {
				redirectWithError(w, r, RouteLoginPage, err)
			}
			return
		}

		previous := s.sessionIDFromCookie(r)
		session, err := s.sessions.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			if jsonRequest {
				writeError(w, err)
			} else {
				redirectWithError(w, r, RouteLoginPage, err)
			}
			return
		}
		if previous != "" && previous != session.ID {
			_ = s.sessions.Logout(r.Context(), previous)
		}

		if err := s.setSessionCookie(w, r, session); err != nil {
			s.logger.Error().Err(err).Str("session_id", session.ID).Msg("failed to issue session cookie")
			writeError(w, err)
			return
		}

		returnTo := safeReturnTo(req.ReturnTo)
		if returnTo == "" {
			returnTo = RoutePortal
		}
		if !jsonRequest {
			redirectSuccess(w, r, returnTo)
			return
		}
		body := s.sessionBody(session)
		body.ReturnTo = returnTo
		writeJSON(w, http.StatusOK, body)
	}
}

// LogoutHandler always succeeds. For Microsoft sessions the response also carries the
// Entra end-session URL so the browser can sign out there too.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirect := RouteLoginPage
		if sessionID := s.sessionIDFromCookie(r); sessionID != "" {
			session, err := s.sessions.Current(r.Context(), sessionID)
			if err == nil && session.User != nil && session.User.Auth != nil &&
				session.User.Auth.Method() == users.MethodMicrosoft && s.providerLogout != nil {
				redirect = s.providerLogout(s.config.GetBaseURL() + RouteLoginPage)
			}
			if err := s.sessions.Logout(r.Context(), sessionID); err != nil {
				s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("logout failed to delete session")
			}
		}
		s.clearSessionCookie(w, r)

		if isHTMXRequest(r) {
			redirectSuccess(w, r, redirect)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"redirect": redirect})
	}
}

// SessionHandler returns the signed-in user. It never exposes tokens.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())
		writeJSON(w, http.StatusOK, s.sessionBody(session))
	}
}

// RefreshHandler forces a token refresh. Local sessions have nothing to refresh and
// are returned unchanged.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())
		if _, ok := session.User.Tokens(); !ok {
			writeJSON(w, http.StatusOK, s.sessionBody(session))
			return
		}
		refreshed, err := s.sessions.Refresh(r.Context(), session.ID)
		if err != nil {
			s.clearSessionCookie(w, r)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.sessionBody(refreshed))
	}
}

type preferencesPatch struct {
	Theme              *string `json:"theme"`
	Language           *string `json:"language"`
	EmailNotifications *bool   `json:"email_notifications"`
	TwoFactorEnabled   *bool   `json:"two_factor_enabled"`
}

// PreferencesHandler applies a partial update to the user's preferences.
func (s *Server) PreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())

		var patch preferencesPatch
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "The preferences could not be read."})
			return
		}

		current := session.User.Preferences
		prefs := users.Preferences{
			Theme:              utils.ValueOr(patch.Theme, current.Theme),
			Language:           utils.ValueOr(patch.Language, current.Language),
			EmailNotifications: utils.ValueOr(patch.EmailNotifications, current.EmailNotifications),
			TwoFactorEnabled:   utils.ValueOr(patch.TwoFactorEnabled, current.TwoFactorEnabled),
		}
		if _, ok := themes[prefs.Theme]; !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Unsupported theme."})
			return
		}
		if _, ok := languages[prefs.Language]; !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Unsupported language."})
			return
		}

		updated, err := s.sessions.UpdatePreferences(r.Context(), session.ID, prefs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.sessionBody(updated))
	}
}

// ProvidersHandler tells the login page which sign-in methods to offer.
func (s *Server) ProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{
			"microsoft": s.sessions.MicrosoftEnabled(),
			"local":     s.sessions.LocalEnabled(),
		})
	}
}
