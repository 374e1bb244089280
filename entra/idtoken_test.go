package entra_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nextphaseit/portal-identity/entra"
	"github.com/nextphaseit/portal-identity/entra/entrafakes"
	"github.com/stretchr/testify/require"
)

func TestIDTokenVerifier_VerifiesProviderToken(t *testing.T) {
	fake := entrafakes.NewFakeProvider()
	defer fake.Close()
	tokens := signIn(t, fake, alice)

	claims, err := fake.Verifier().Verify(context.Background(), tokens.IDToken)
	require.NoError(t, err)
	require.Equal(t, alice.ID, claims.ObjectID)
	require.Equal(t, entrafakes.TenantID, claims.TenantID)
	require.Equal(t, "sub-"+alice.ID, claims.Subject)
	require.Equal(t, "alice@nextphaseit.org", claims.PreferredUsername)
}

func TestIDTokenVerifier_Rejects(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	const issuer = "https://login.microsoftonline.com/tenant-1/v2.0"
	verifier := entra.NewStaticIDTokenVerifier(issuer, "client-1", &key.PublicKey)

	sign := func(k *rsa.PrivateKey, claims jwt.MapClaims) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(k)
		require.NoError(t, err)
		return raw
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss": issuer,
			"aud": "client-1",
			"sub": "subject",
			"oid": "object",
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
	}

	_, err = verifier.Verify(context.Background(), sign(key, base()))
	require.NoError(t, err)

	wrongAudience := base()
	wrongAudience["aud"] = "someone-else"
	_, err = verifier.Verify(context.Background(), sign(key, wrongAudience))
	require.Error(t, err)

	expired := base()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err = verifier.Verify(context.Background(), sign(key, expired))
	require.Error(t, err)

	wrongIssuer := base()
	wrongIssuer["iss"] = "https://evil.example.com/v2.0"
	_, err = verifier.Verify(context.Background(), sign(key, wrongIssuer))
	require.Error(t, err)

	_, err = verifier.Verify(context.Background(), sign(otherKey, base()))
	require.Error(t, err)
}
