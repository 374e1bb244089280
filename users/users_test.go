package users_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nextphaseit/portal-identity/entra"
	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/users"
	"github.com/stretchr/testify/require"
)

func microsoftUser() *users.User {
	return &users.User{
		ID:       "u-1",
		Name:     "Alice",
		Email:    "alice@nextphaseit.org",
		Role:     users.RoleAdmin,
		TenantID: "nextphaseit",
		Auth: users.MicrosoftAuth{Tokens: entra.TokenSet{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			TokenType:    "Bearer",
			Expiry:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		}},
		Preferences: users.DefaultPreferences(),
	}
}

func TestUser_JSONRoundTripKeepsAuthMethod(t *testing.T) {
	data, err := json.Marshal(microsoftUser())
	require.NoError(t, err)
	require.Contains(t, string(data), `"method":"microsoft"`)

	var decoded users.User
	require.NoError(t, json.Unmarshal(data, &decoded))
	tokens, ok := decoded.Tokens()
	require.True(t, ok)
	require.Equal(t, "rt-1", tokens.RefreshToken)
	require.Equal(t, users.RoleAdmin, decoded.Role)

	local := &users.User{ID: "u-2", Email: "bob@nextphaseit.org", Role: users.RoleUser, Auth: users.LocalAuth{}}
	data, err = json.Marshal(local)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, users.MethodLocal, decoded.Auth.Method())
	_, ok = decoded.Tokens()
	require.False(t, ok)
}

func TestUser_JSONRejectsUnknownMethod(t *testing.T) {
	var u users.User
	require.Error(t, json.Unmarshal([]byte(`{"id":"x","auth":{"method":"saml"}}`), &u))
	require.Error(t, json.Unmarshal([]byte(`{"id":"x","auth":{"method":"microsoft"}}`), &u))

	_, err := json.Marshal(users.User{ID: "no-auth"})
	require.Error(t, err)
}

func TestUser_PublicNeverCarriesTokens(t *testing.T) {
	data, err := json.Marshal(microsoftUser().Public())
	require.NoError(t, err)
	require.NotContains(t, string(data), "at-1")
	require.NotContains(t, string(data), "rt-1")
	require.Contains(t, string(data), `"auth_method":"microsoft"`)
}

func TestUser_CloneIsIndependent(t *testing.T) {
	original := microsoftUser()
	clone := original.Clone()
	clone.Preferences.Theme = "dark"
	clone.Auth = users.LocalAuth{}

	require.Equal(t, "light", original.Preferences.Theme)
	require.Equal(t, users.MethodMicrosoft, original.Auth.Method())
}

func TestLocalDirectory_Authenticate(t *testing.T) {
	hash, err := users.HashPassword("Portal123")
	require.NoError(t, err)

	dir, err := users.NewLocalDirectory([]users.LocalAccount{
		{Email: "Demo@NextPhaseIT.org", Name: "Demo", PasswordHash: hash, Role: users.RoleUser},
	})
	require.NoError(t, err)
	require.Equal(t, 1, dir.Len())

	account, err := dir.Authenticate(context.Background(), "demo@nextphaseit.org", "Portal123")
	require.NoError(t, err)
	require.Equal(t, "demo@nextphaseit.org", account.Email)

	_, err = dir.Authenticate(context.Background(), "demo@nextphaseit.org", "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = dir.Authenticate(context.Background(), "nobody@nextphaseit.org", "Portal123")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestNewLocalDirectory_Validation(t *testing.T) {
	_, err := users.NewLocalDirectory([]users.LocalAccount{{Email: "a@x.com"}})
	require.Error(t, err)

	_, err = users.NewLocalDirectory([]users.LocalAccount{{Email: "a@x.com", PasswordHash: "h", Role: "owner"}})
	require.Error(t, err)

	_, err = users.NewLocalDirectory([]users.LocalAccount{
		{Email: "a@x.com", PasswordHash: "h"},
		{Email: "A@X.com", PasswordHash: "h"},
	})
	require.Error(t, err)
}

func TestValidatePasswordStrength(t *testing.T) {
	require.NoError(t, users.ValidatePasswordStrength("Portal123"))
	require.Error(t, users.ValidatePasswordStrength("short1A"))
	require.Error(t, users.ValidatePasswordStrength("alllowercase1"))
	require.Error(t, users.ValidatePasswordStrength("ALLUPPERCASE1"))
	require.Error(t, users.ValidatePasswordStrength("NoNumbersHere"))
}
