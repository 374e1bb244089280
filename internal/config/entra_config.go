package config

import (
	"strings"
	"time"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
)

const (
	entraClientIDVar     = "ENTRA_CLIENT_ID"
	entraClientSecretVar = "ENTRA_CLIENT_SECRET"
	entraTenantIDVar     = "ENTRA_TENANT_ID"

	// CallbackPath is where Entra ID redirects back to after sign-in.
	CallbackPath = "/auth/callback"

	// RevokeSessionsScope is the delegated permission Graph requires for provider sign-out.
	RevokeSessionsScope = "User.RevokeSessions.All"
)

// EntraConfig holds the Microsoft Entra ID (Azure AD) application registration.
type EntraConfig interface {
	GetEntraClientID() string
	GetEntraClientSecret() string
	GetEntraTenantID() string
	GetEntraAuthorityHost() string
	GetGraphBaseURL() string
	GetEntraScopes() []string
	GetEntraRevokeSessions() bool
	GetEntraPrompt() string
	GetEntraDomainHint() string
	GetRedirectURL() string
	GetEntraHTTPTimeout() time.Duration
	ValidateEntra() error
}

type Entra struct{}

var _ EntraConfig = Entra{}

func (Entra) GetEntraClientID() string {
	return GetEnv(entraClientIDVar, "")
}

// GetEntraClientSecret is only ever read server side.
func (Entra) GetEntraClientSecret() string {
	return GetEnv(entraClientSecretVar, "")
}

func (Entra) GetEntraTenantID() string {
	return GetEnv(entraTenantIDVar, "")
}

func (Entra) GetEntraAuthorityHost() string {
	return GetEnv("ENTRA_AUTHORITY_HOST", "https://login.microsoftonline.com")
}

func (Entra) GetGraphBaseURL() string {
	return GetEnv("GRAPH_BASE_URL", "https://graph.microsoft.com")
}

// GetEntraScopes includes RevokeSessionsScope whenever provider sign-out is enabled.
func (e Entra) GetEntraScopes() []string {
	scopes := splitList(GetEnv("ENTRA_SCOPES", "openid profile email offline_access User.Read"))
	if !e.GetEntraRevokeSessions() {
		return scopes
	}
	for _, s := range scopes {
		if strings.EqualFold(s, RevokeSessionsScope) {
			return scopes
		}
	}
	return append(scopes, RevokeSessionsScope)
}

// GetEntraRevokeSessions enables revoking the user's Microsoft sessions on logout.
func (Entra) GetEntraRevokeSessions() bool {
	return GetBoolEnv("ENTRA_REVOKE_SESSIONS", false)
}

func (Entra) GetEntraPrompt() string {
	return GetEnv("ENTRA_PROMPT", "select_account")
}

func (Entra) GetEntraDomainHint() string {
	return GetEnv("ENTRA_DOMAIN_HINT", "")
}

func (Entra) GetRedirectURL() string {
	return EnvVars{}.GetBaseURL() + CallbackPath
}

// GetEntraHTTPTimeout bounds every token and Graph call.
func (Entra) GetEntraHTTPTimeout() time.Duration {
	return GetDurationEnv("ENTRA_HTTP_TIMEOUT", 10*time.Second)
}

// ValidateEntra reports missing registration settings as a ConfigurationError.
func (e Entra) ValidateEntra() error {
	var missing []string
	if e.GetEntraClientID() == "" {
		missing = append(missing, entraClientIDVar)
	}
	if e.GetEntraClientSecret() == "" {
		missing = append(missing, entraClientSecretVar)
	}
	if e.GetEntraTenantID() == "" {
		missing = append(missing, entraTenantIDVar)
	}
	if len(missing) > 0 {
		return &apperrors.ConfigurationError{Missing: missing}
	}
	return nil
}
