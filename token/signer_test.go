package token_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nextphaseit/portal-identity/token"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestNewSigner_ShortSecret(t *testing.T) {
	_, err := token.NewSigner("too-short", "portal")
	require.Error(t, err)
}

func TestSigner_IssueAndParse(t *testing.T) {
	signer, err := token.NewSigner(secret, "portal")
	require.NoError(t, err)

	raw, err := signer.Issue("session-1", time.Hour)
	require.NoError(t, err)

	sessionID, err := signer.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "session-1", sessionID)

	_, err = signer.Issue("", time.Hour)
	require.Error(t, err)
}

func TestSigner_ParseRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	signer, err := token.NewSigner(secret, "portal", token.WithNowTime(func() time.Time { return now }))
	require.NoError(t, err)

	raw, err := signer.Issue("session-1", time.Minute)
	require.NoError(t, err)

	// Expired
	later, err := token.NewSigner(secret, "portal", token.WithNowTime(func() time.Time { return now.Add(2 * time.Minute) }))
	require.NoError(t, err)
	_, err = later.Parse(raw)
	require.ErrorIs(t, err, token.ErrInvalidToken)

	// Different secret
	other, err := token.NewSigner(strings.Repeat("x", 32), "portal", token.WithNowTime(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = other.Parse(raw)
	require.ErrorIs(t, err, token.ErrInvalidToken)

	// Different issuer
	otherIssuer, err := token.NewSigner(secret, "elsewhere", token.WithNowTime(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = otherIssuer.Parse(raw)
	require.ErrorIs(t, err, token.ErrInvalidToken)

	// Unsigned
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, token.SessionClaims{SessionID: "session-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = signer.Parse(unsigned)
	require.ErrorIs(t, err, token.ErrInvalidToken)

	_, err = signer.Parse("garbage")
	require.ErrorIs(t, err, token.ErrInvalidToken)
}
