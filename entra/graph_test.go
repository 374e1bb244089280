package entra_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nextphaseit/portal-identity/entra"
	"github.com/nextphaseit/portal-identity/entra/entrafakes"
	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/pkce"
	"github.com/stretchr/testify/require"
)

func signIn(t *testing.T, fake *entrafakes.FakeProvider, profile entra.Profile) *entra.TokenSet {
	t.Helper()
	pair, err := pkce.NewPair()
	require.NoError(t, err)
	tokens, err := newClient(t, fake).ExchangeCode(context.Background(), fake.IssueCode(pair.Challenge, profile), pair.Verifier)
	require.NoError(t, err)
	return tokens
}

func TestGraphClient_FetchProfile(t *testing.T) {
	fake := entrafakes.NewFakeProvider()
	defer fake.Close()
	tokens := signIn(t, fake, alice)

	graph := entra.NewGraphClient(fake.URL(), time.Second, nil)
	profile, err := graph.FetchProfile(context.Background(), tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, alice.ID, profile.ID)
	require.Equal(t, "alice@nextphaseit.org", profile.Email())
	require.Equal(t, "Alice Admin", profile.Name())
	require.Equal(t, "IT", profile.Department)
}

func TestGraphClient_FetchProfileUnauthorized(t *testing.T) {
	fake := entrafakes.NewFakeProvider()
	defer fake.Close()

	graph := entra.NewGraphClient(fake.URL(), time.Second, nil)
	_, err := graph.FetchProfile(context.Background(), "at-unknown")
	require.ErrorIs(t, err, apperrors.ErrProfileFetch)

	var profileErr *apperrors.ProfileFetchError
	require.True(t, errors.As(err, &profileErr))
	require.True(t, profileErr.Unauthenticated())
}

func TestGraphClient_FetchProfileServerError(t *testing.T) {
	fake := entrafakes.NewFakeProvider()
	defer fake.Close()
	tokens := signIn(t, fake, alice)
	fake.SetProfileStatus(http.StatusServiceUnavailable)

	graph := entra.NewGraphClient(fake.URL(), time.Second, nil)
	_, err := graph.FetchProfile(context.Background(), tokens.AccessToken)

	var profileErr *apperrors.ProfileFetchError
	require.True(t, errors.As(err, &profileErr))
	require.Equal(t, http.StatusServiceUnavailable, profileErr.StatusCode)
	require.False(t, profileErr.Unauthenticated())
}

func TestGraphClient_FetchPhoto(t *testing.T) {
	fake := entrafakes.NewFakeProvider()
	defer fake.Close()
	tokens := signIn(t, fake, alice)
	graph := entra.NewGraphClient(fake.URL(), time.Second, nil)

	photo, err := graph.FetchPhoto(context.Background(), tokens.AccessToken)
	require.NoError(t, err)
	require.Empty(t, photo)

	fake.SetPhoto([]byte{0x89, 'P', 'N', 'G'})
	photo, err = graph.FetchPhoto(context.Background(), tokens.AccessToken)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(photo, "data:image/png;base64,"))
}

func TestGraphClient_RevokeSignInSessions(t *testing.T) {
	fake := entrafakes.NewFakeProvider()
	defer fake.Close()
	tokens := signIn(t, fake, alice)
	graph := entra.NewGraphClient(fake.URL(), time.Second, nil)

	require.NoError(t, graph.RevokeSignInSessions(context.Background(), tokens.AccessToken))
	require.Error(t, graph.RevokeSignInSessions(context.Background(), "at-unknown"))
	require.EqualValues(t, 2, fake.RevokeCalls.Load())
}
