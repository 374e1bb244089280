package users

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode"

	"github.com/nextphaseit/portal-identity/entra"
	"golang.org/x/crypto/bcrypt"
)

// RoleType is the portal role derived from the tenant allow-lists.
type RoleType string

const (
	RoleAdmin RoleType = "admin"
	RoleUser  RoleType = "user"
)

// Valid reports whether r is a known role.
func (r RoleType) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Preferences are the user-editable settings carried on the session.
type Preferences struct {
	Theme              string `json:"theme"`
	Language           string `json:"language"`
	EmailNotifications bool   `json:"email_notifications"`
	TwoFactorEnabled   bool   `json:"two_factor_enabled"`
}

// DefaultPreferences are applied to every new session.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:              "light",
		Language:           "en",
		EmailNotifications: true,
	}
}

// User is the authenticated principal of a session. It is assembled completely before
// a session is published and never partially updated afterwards except for tokens and
// preferences.
type User struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Role          RoleType    `json:"role"`
	Department    string      `json:"department,omitempty"`
	JobTitle      string      `json:"job_title,omitempty"`
	Picture       string      `json:"picture,omitempty"`
	TenantID      string      `json:"tenant_id"`
	Auth          AuthMethod  `json:"-"`
	IsGlobalAdmin bool        `json:"is_global_admin"`
	Preferences   Preferences `json:"preferences"`
	CreatedAt     time.Time   `json:"created_at"`
	LastLogin     time.Time   `json:"last_login"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Tokens returns the provider tokens for Microsoft users. It is safe on a nil User.
func (u *User) Tokens() (*entra.TokenSet, bool) {
	if u == nil {
		return nil, false
	}
	if ms, ok := u.Auth.(MicrosoftAuth); ok {
		tokens := ms.Tokens
		return &tokens, true
	}
	return nil, false
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if ms, ok := u.Auth.(MicrosoftAuth); ok {
		c.Auth = MicrosoftAuth{Tokens: ms.Tokens}
	}
	return &c
}

// PublicUser is the browser-facing view of a User. It never carries provider tokens.
type PublicUser struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Role          RoleType    `json:"role"`
	Department    string      `json:"department,omitempty"`
	JobTitle      string      `json:"job_title,omitempty"`
	Picture       string      `json:"picture,omitempty"`
	TenantID      string      `json:"tenant_id"`
	AuthMethod    string      `json:"auth_method"`
	IsGlobalAdmin bool        `json:"is_global_admin"`
	Preferences   Preferences `json:"preferences"`
	LastLogin     time.Time   `json:"last_login"`
}

func (u *User) Public() PublicUser {
	p := PublicUser{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          u.Role,
		Department:    u.Department,
		JobTitle:      u.JobTitle,
		Picture:       u.Picture,
		TenantID:      u.TenantID,
		IsGlobalAdmin: u.IsGlobalAdmin,
		Preferences:   u.Preferences,
		LastLogin:     u.LastLogin,
	}
	if u.Auth != nil {
		p.AuthMethod = u.Auth.Method()
	}
	return p
}

type userAlias User

type storedUser struct {
	*userAlias
	Auth authEnvelope `json:"auth"`
}

// MarshalJSON encodes the full record, tokens included, for server-side storage.
func (u User) MarshalJSON() ([]byte, error) {
	env, err := envelopeFor(u.Auth)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedUser{userAlias: (*userAlias)(&u), Auth: env})
}

func (u *User) UnmarshalJSON(data []byte) error {
	stored := storedUser{userAlias: (*userAlias)(u)}
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	auth, err := stored.Auth.method()
	if err != nil {
		return err
	}
	u.Auth = auth
	return nil
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
