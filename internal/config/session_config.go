package config

import "time"

type SessionConfig interface {
	GetSessionSecret() string
	GetSessionCookieName() string
	GetMaxSessionAge() time.Duration
	GetRefreshBuffer() time.Duration
	GetAuthFlowTTL() time.Duration
	GetSessionLiveCheck() bool
	GetAdminPolicy() string
}

type Session struct{}

var _ SessionConfig = Session{}

// GetSessionSecret is the HMAC key for session cookies.
func (Session) GetSessionSecret() string {
	return GetEnv("SESSION_SECRET", "")
}

func (Session) GetSessionCookieName() string {
	return GetEnv("SESSION_COOKIE_NAME", "portal_session")
}

// GetMaxSessionAge applies to local sessions and to tenants without their own timeout.
func (Session) GetMaxSessionAge() time.Duration {
	return GetDurationEnv("SESSION_MAX_AGE", 8*time.Hour)
}

// GetRefreshBuffer is how long before access token expiry a session is refreshed.
func (Session) GetRefreshBuffer() time.Duration {
	return GetDurationEnv("REFRESH_BUFFER", 5*time.Minute)
}

// GetAuthFlowTTL bounds how long a PKCE verifier and state survive.
func (Session) GetAuthFlowTTL() time.Duration {
	return GetDurationEnv("AUTH_FLOW_TTL", 10*time.Minute)
}

// GetSessionLiveCheck enables a Graph call on validation to catch server-side revocation.
func (Session) GetSessionLiveCheck() bool {
	return GetBoolEnv("SESSION_LIVE_CHECK", false)
}

// GetAdminPolicy is "list" or "list_and_override".
func (Session) GetAdminPolicy() string {
	return GetEnv("ADMIN_POLICY", "list")
}
