package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextphaseit/portal-identity/internal/config"
	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, v := range []string{"PORT", "ENV", "BASE_URL", "SESSION_MAX_AGE", "REFRESH_BUFFER", "STORAGE_DRIVER", "ADMIN_POLICY", "ENTRA_SCOPES", "ENTRA_REVOKE_SESSIONS"} {
		t.Setenv(v, "")
	}
	c := config.New()

	require.Equal(t, ":8080", c.GetPort())
	require.Equal(t, "DEV", c.GetEnv())
	require.Equal(t, "http://localhost:8080", c.GetBaseURL())
	require.Equal(t, "http://localhost:8080/auth/callback", c.GetRedirectURL())
	require.Equal(t, 8*time.Hour, c.GetMaxSessionAge())
	require.Equal(t, 5*time.Minute, c.GetRefreshBuffer())
	require.Equal(t, 10*time.Minute, c.GetAuthFlowTTL())
	require.Equal(t, "memory", c.GetStorageDriver())
	require.Equal(t, "list", c.GetAdminPolicy())
	require.Equal(t, "portal_session", c.GetSessionCookieName())
	require.Equal(t, []string{"openid", "profile", "email", "offline_access", "User.Read"}, c.GetEntraScopes())
	require.False(t, c.GetSessionLiveCheck())
	require.False(t, c.GetEntraRevokeSessions())
}

func TestEntraScopes_RevokeSessions(t *testing.T) {
	t.Setenv("ENTRA_SCOPES", "")
	t.Setenv("ENTRA_REVOKE_SESSIONS", "true")
	c := config.New()
	require.True(t, c.GetEntraRevokeSessions())
	require.Equal(t, []string{"openid", "profile", "email", "offline_access", "User.Read", config.RevokeSessionsScope}, c.GetEntraScopes())

	// Already configured scopes are not duplicated
	t.Setenv("ENTRA_SCOPES", "openid offline_access User.Read user.revokesessions.all")
	require.Equal(t, []string{"openid", "offline_access", "User.Read", "user.revokesessions.all"}, config.New().GetEntraScopes())
}

func TestOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "prod")
	t.Setenv("BASE_URL", "https://portal.nextphaseit.org/")
	t.Setenv("SESSION_MAX_AGE", "2h")
	t.Setenv("REFRESH_BUFFER", "not-a-duration")
	t.Setenv("SESSION_LIVE_CHECK", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.nextphaseit.org, https://admin.nextphaseit.org/")
	c := config.New()

	require.Equal(t, ":9000", c.GetPort())
	require.Equal(t, "PROD", c.GetEnv())
	require.Equal(t, "https://portal.nextphaseit.org/auth/callback", c.GetRedirectURL())
	require.Equal(t, 2*time.Hour, c.GetMaxSessionAge())
	require.Equal(t, 5*time.Minute, c.GetRefreshBuffer())
	require.True(t, c.GetSessionLiveCheck())
	require.Equal(t, 3, c.GetRedisDB())

	origins := c.GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://portal.nextphaseit.org"))
	require.True(t, origins.IsAllowedOrigin("https://app.nextphaseit.org"))
	require.True(t, origins.IsAllowedOrigin("https://admin.nextphaseit.org"))
	require.False(t, origins.IsAllowedOrigin("https://evil.com"))
}

func TestValidateEntra(t *testing.T) {
	t.Setenv("ENTRA_CLIENT_ID", "")
	t.Setenv("ENTRA_CLIENT_SECRET", "")
	t.Setenv("ENTRA_TENANT_ID", "common")

	err := config.New().ValidateEntra()
	require.ErrorIs(t, err, apperrors.ErrConfiguration)
	var cfgErr *apperrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, []string{"ENTRA_CLIENT_ID", "ENTRA_CLIENT_SECRET"}, cfgErr.Missing)

	t.Setenv("ENTRA_CLIENT_ID", "client")
	t.Setenv("ENTRA_CLIENT_SECRET", "secret")
	require.NoError(t, config.New().ValidateEntra())
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORTAL_TEST_FROM_FILE=loaded\nPORTAL_TEST_PRESET=file\n"), 0o600))
	t.Setenv("ENV_FILE_PATH", "")
	t.Setenv("PORTAL_TEST_PRESET", "process")
	t.Cleanup(func() { _ = os.Unsetenv("PORTAL_TEST_FROM_FILE") })

	config.LoadEnv(path)
	require.Equal(t, "loaded", os.Getenv("PORTAL_TEST_FROM_FILE"))
	// Variables already set win over the file
	require.Equal(t, "process", os.Getenv("PORTAL_TEST_PRESET"))

	// A missing file is not fatal
	config.LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
}
