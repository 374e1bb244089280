package users

import "context"

// Directory authenticates users who sign in with a portal password instead of Microsoft.
type Directory interface {
	Authenticate(ctx context.Context, email, password string) (*LocalAccount, error)
	Len() int
}
