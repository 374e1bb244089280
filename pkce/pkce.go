// Package pkce generates the Proof Key for Code Exchange material (RFC 7636) for one
// authorization round trip: a high-entropy code verifier, its S256 challenge and the
// anti-CSRF state value.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// VerifierLength is the number of random bytes behind a verifier.
	// 32 bytes encode to 43 base64url characters, the RFC 7636 minimum.
	VerifierLength = 32

	// StateLength is the number of random bytes behind a state value.
	StateLength = 32

	// MethodS256 is the only challenge method this service sends.
	MethodS256 = "S256"
)

// Pair holds a verifier and the challenge derived from it.
type Pair struct {
	Verifier  string
	Challenge string
}

// GenerateVerifier draws VerifierLength bytes from crypto/rand and base64url encodes
// them without padding.
func GenerateVerifier() (string, error) {
	return randomString(VerifierLength)
}

// ComputeChallenge returns base64url(SHA256(verifier)) without padding.
func ComputeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState returns an opaque random value correlating an authorization request
// with its callback.
func GenerateState() (string, error) {
	return randomString(StateLength)
}

// NewPair generates a verifier and its challenge.
func NewPair() (Pair, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return Pair{}, err
	}
	return Pair{Verifier: verifier, Challenge: ComputeChallenge(verifier)}, nil
}

// Verify reports whether verifier hashes to challenge.
func Verify(verifier, challenge string) bool {
	return verifier != "" && ComputeChallenge(verifier) == challenge
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("[pkce] rand.Read: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
