// Package entra talks to Microsoft Entra ID (Azure AD) and Microsoft Graph: it builds
// the authorize URL, exchanges and refreshes tokens, verifies ID tokens and fetches the
// signed-in user's profile.
package entra

import (
	"strings"
	"time"
)

// TokenSet is the token endpoint response for one grant.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
	Expiry       time.Time `json:"expiry"`
}

// ExpiresWithin reports whether the access token expires within d of now.
// A zero expiry counts as expired.
func (t TokenSet) ExpiresWithin(now time.Time, d time.Duration) bool {
	if t.Expiry.IsZero() {
		return true
	}
	return !now.Add(d).Before(t.Expiry)
}

// Expired reports whether the access token is past its expiry.
func (t TokenSet) Expired(now time.Time) bool {
	return t.ExpiresWithin(now, 0)
}

// CanRefresh reports whether a refresh token is available.
func (t TokenSet) CanRefresh() bool {
	return t.RefreshToken != ""
}

// Profile is the subset of the Graph /me resource the portal uses.
type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	Department        string `json:"department"`
	JobTitle          string `json:"jobTitle"`
	OfficeLocation    string `json:"officeLocation"`
}

// Email returns the primary mail address, falling back to the UPN, lowercased.
func (p Profile) Email() string {
	email := p.Mail
	if email == "" {
		email = p.UserPrincipalName
	}
	return strings.ToLower(strings.TrimSpace(email))
}

// Name returns the display name, or given name and surname when Graph has no display name.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return strings.TrimSpace(p.GivenName + " " + p.Surname)
}

// IDClaims are the ID token claims checked after a code exchange.
type IDClaims struct {
	Subject           string `json:"sub"`
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Nonce             string `json:"nonce"`
}
