package users

import (
	"fmt"

	"github.com/nextphaseit/portal-identity/entra"
)

const (
	MethodMicrosoft = "microsoft"
	MethodLocal     = "local"
)

// AuthMethod records how a user signed in. The only implementations are MicrosoftAuth
// and LocalAuth.
type AuthMethod interface {
	Method() string
	sealed()
}

// MicrosoftAuth is a session backed by Entra tokens.
type MicrosoftAuth struct {
	Tokens entra.TokenSet
}

func (MicrosoftAuth) Method() string { return MethodMicrosoft }
func (MicrosoftAuth) sealed()        {}

// LocalAuth is a session backed by the local credential directory. It carries no tokens.
type LocalAuth struct{}

func (LocalAuth) Method() string { return MethodLocal }
func (LocalAuth) sealed()        {}

var (
	_ AuthMethod = MicrosoftAuth{}
	_ AuthMethod = LocalAuth{}
)

type authEnvelope struct {
	Method string          `json:"method"`
	Tokens *entra.TokenSet `json:"tokens,omitempty"`
}

func envelopeFor(auth AuthMethod) (authEnvelope, error) {
	switch a := auth.(type) {
	case MicrosoftAuth:
		tokens := a.Tokens
		return authEnvelope{Method: MethodMicrosoft, Tokens: &tokens}, nil
	case LocalAuth:
		return authEnvelope{Method: MethodLocal}, nil
	case nil:
		return authEnvelope{}, fmt.Errorf("[users.envelopeFor] auth method is not set")
	default:
		return authEnvelope{}, fmt.Errorf("[users.envelopeFor] unknown auth method %T", auth)
	}
}

func (e authEnvelope) method() (AuthMethod, error) {
	switch e.Method {
	case MethodMicrosoft:
		if e.Tokens == nil {
			return nil, fmt.Errorf("[users.authEnvelope] microsoft auth without tokens")
		}
		return MicrosoftAuth{Tokens: *e.Tokens}, nil
	case MethodLocal:
		return LocalAuth{}, nil
	default:
		return nil, fmt.Errorf("[users.authEnvelope] unknown auth method %q", e.Method)
	}
}
