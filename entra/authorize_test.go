package entra_test

import (
	"net/url"
	"testing"

	"github.com/nextphaseit/portal-identity/entra"
	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/pkce"
	"github.com/stretchr/testify/require"
)

func validParams() entra.AuthURLParams {
	return entra.AuthURLParams{
		Endpoint:    "https://login.microsoftonline.com/tenant-1/oauth2/v2.0/authorize",
		ClientID:    "client-1",
		RedirectURI: "https://portal.example.org/auth/callback",
		Scopes:      []string{"openid", "profile", "email", "offline_access", "User.Read"},
		Challenge:   pkce.ComputeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"),
		State:       "state-123",
	}
}

func TestAuthURL_RequiredParameters(t *testing.T) {
	p := validParams()
	p.Prompt = "select_account"
	p.DomainHint = "nextphaseit.org"

	raw, err := entra.AuthURL(p)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "login.microsoftonline.com", u.Host)
	require.Equal(t, "/tenant-1/oauth2/v2.0/authorize", u.Path)

	q := u.Query()
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "https://portal.example.org/auth/callback", q.Get("redirect_uri"))
	require.Equal(t, "openid profile email offline_access User.Read", q.Get("scope"))
	require.Equal(t, "query", q.Get("response_mode"))
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "select_account", q.Get("prompt"))
	require.Equal(t, "nextphaseit.org", q.Get("domain_hint"))
	require.False(t, q.Has("login_hint"))
}

func TestAuthURL_OmitsEmptyHints(t *testing.T) {
	raw, err := entra.AuthURL(validParams())
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.False(t, u.Query().Has("prompt"))
	require.False(t, u.Query().Has("domain_hint"))
}

func TestAuthURL_MissingParameter(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *entra.AuthURLParams)
	}{
		{"state", func(p *entra.AuthURLParams) { p.State = "" }},
		{"challenge", func(p *entra.AuthURLParams) { p.Challenge = " " }},
		{"client id", func(p *entra.AuthURLParams) { p.ClientID = "" }},
		{"redirect uri", func(p *entra.AuthURLParams) { p.RedirectURI = "" }},
		{"endpoint", func(p *entra.AuthURLParams) { p.Endpoint = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			raw, err := entra.AuthURL(p)
			require.ErrorIs(t, err, apperrors.ErrMissingAuthParameter)
			require.Empty(t, raw)
		})
	}
}
