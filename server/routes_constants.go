package server

import "github.com/nextphaseit/portal-identity/internal/config"

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Microsoft sign-in
	RouteMicrosoftLogin = "/auth/microsoft/login"
	RouteCallback       = config.CallbackPath

	// Auth Routes - Local sign-in & session
	RouteAuthLogin          = "/auth/login"
	RouteAuthLogout         = "/auth/logout"
	RouteSession            = "/auth/session"
	RouteSessionRefresh     = "/auth/refresh"
	RouteSessionPreferences = "/auth/session/preferences"
	RouteProviders          = "/auth/providers"

	// Admin API Routes
	RouteAdminTenants = "/api/admin/tenants"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Browser pages served by the portal front end
	RouteLoginPage = "/login"
	RoutePortal    = "/portal"
)
