// Package sessions owns the portal's session lifecycle: local and Microsoft sign-in,
// validation, token refresh and logout.
package sessions

import (
	"time"

	"github.com/nextphaseit/portal-identity/users"
)

// State is the lifecycle state of a session.
type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateRefreshing     State = "refreshing"
)

// Session is the server-side record a session token points at. A session is either
// pending (authenticating, no user) or carries a fully assembled user.
type Session struct {
	ID        string      `json:"id"`
	State     State       `json:"state"`
	User      *users.User `json:"user,omitempty"`
	Version   uint64      `json:"version"`
	FlowState string      `json:"flow_state,omitempty"`
	ReturnTo  string      `json:"return_to,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}

// Authenticated reports whether the session carries a signed-in user.
func (s *Session) Authenticated() bool {
	return s.User != nil && (s.State == StateAuthenticated || s.State == StateRefreshing)
}

// Expired reports whether the session is past its absolute lifetime.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
