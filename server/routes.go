package server

import (
	"encoding/json"
	"net/http"
)

func (s *Server) initRoutes() {
	// MICROSOFT SIGN-IN
	s.RegisterRouteHandler("GET "+RouteMicrosoftLogin, ChainMiddleware(s.MicrosoftLoginHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.BrowserMiddleware()...)) // For form_post response mode

	// LOCAL SIGN-IN & SESSION
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LocalLoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteProviders, ChainMiddleware(s.ProvidersHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteSessionRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("PATCH "+RouteSessionPreferences, ChainMiddleware(s.PreferencesHandler(), s.APIMiddleware(s.RequireSession())...))

	// Admin routes
	s.RegisterRouteHandler("GET "+RouteAdminTenants, ChainMiddleware(s.AdminTenantsListHandler(), s.APIMiddleware(s.RequireSession(), s.RequireAdmin())...))

	// CORS preflight for the JSON API
	s.RegisterRouteHandler("OPTIONS /auth/", ChainMiddleware(noContent, s.CorsMiddleware))
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(noContent, s.CorsMiddleware))

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	if s.metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
	}
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"microsoft": s.sessions.MicrosoftEnabled(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
