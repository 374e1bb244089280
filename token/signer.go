// Package token issues the signed session tokens the browser holds. A token names a
// server-side session and carries no provider credentials.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the minimum HMAC secret size in bytes.
const MinSecretLength = 32

var ErrInvalidToken = errors.New("invalid session token")

// KeySigner signs and verifies JWTs.
type KeySigner interface {
	// Sign creates a signed JWT token from claims
	Sign(claims jwt.Claims) (string, error)

	// GetVerificationKey returns the key used to verify token
	GetVerificationKey(token *jwt.Token) (any, error)

	// GetSigningMethod returns the JWT signing method used
	GetSigningMethod() jwt.SigningMethod
}

// HMACsigner implements KeySigner using symmetric HMAC-SHA256
type HMACsigner struct {
	secret []byte
}

var _ KeySigner = (*HMACsigner)(nil)

// NewHMACSigner creates a new HMAC signer with the given secret
func NewHMACSigner(secret string) *HMACsigner {
	return &HMACsigner{
		secret: []byte(secret),
	}
}

func (h *HMACsigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with HMAC: %w", err)
	}
	return signedToken, nil
}

func (h *HMACsigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACsigner) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

// SessionClaims are the claims of a session token.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Signer issues and parses session tokens.
type Signer struct {
	keys    KeySigner
	issuer  string
	nowTime func() time.Time
}

type SignerOption func(*Signer)

// WithNowTime sets the clock (primarily for testing).
func WithNowTime(nowFunc func() time.Time) SignerOption {
	return func(s *Signer) {
		s.nowTime = nowFunc
	}
}

// NewSigner returns a Signer using an HMAC secret of at least MinSecretLength bytes.
func NewSigner(secret, issuer string, options ...SignerOption) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("[token.NewSigner] session secret must be at least %d bytes", MinSecretLength)
	}
	s := &Signer{
		keys:    NewHMACSigner(secret),
		issuer:  issuer,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Issue returns a token for sessionID valid for ttl.
func (s *Signer) Issue(sessionID string, ttl time.Duration) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("[Signer.Issue] session id cannot be empty")
	}
	now := s.nowTime()
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return s.keys.Sign(claims)
}

// Parse verifies raw and returns the session ID it names.
func (s *Signer) Parse(raw string) (string, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, s.keys.GetVerificationKey,
		jwt.WithValidMethods([]string{s.keys.GetSigningMethod().Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.nowTime),
	)
	if err != nil {
		return "", fmt.Errorf("[Signer.Parse] %w: %w", ErrInvalidToken, err)
	}
	if claims.SessionID == "" {
		return "", fmt.Errorf("[Signer.Parse] %w: no session id", ErrInvalidToken)
	}
	return claims.SessionID, nil
}
