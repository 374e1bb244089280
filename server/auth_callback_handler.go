package server

import (
	"net/http"

	"github.com/nextphaseit/portal-identity/sessions"
)

// OAuthCallbackHandler completes a Microsoft sign-in. The state cookie is left to
// expire on its own so a repeated delivery of the same callback still resolves to the
// session it created.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue works for both query params and POST form data
		params := sessions.CallbackParams{
			Code:             r.FormValue("code"),
			State:            r.FormValue("state"),
			Error:            r.FormValue("error"),
			ErrorDescription: r.FormValue("error_description"),
			BrowserState:     authStateFromCookie(r),
			ReplaceSessionID: s.sessionIDFromCookie(r),
		}

		session, err := s.sessions.HandleCallback(r.Context(), params)
		if err != nil {
			s.logger.Info().Err(err).Msg("callback rejected")
			redirectWithError(w, r, RouteLoginPage, err)
			return
		}

		if err := s.setSessionCookie(w, r, session); err != nil {
			s.logger.Error().Err(err).Str("session_id", session.ID).Msg("failed to issue session cookie")
			redirectWithError(w, r, RouteLoginPage, err)
			return
		}

		returnTo := safeReturnTo(session.ReturnTo)
		if returnTo == "" {
			returnTo = RoutePortal
		}
		redirectSuccess(w, r, returnTo)
	}
}
