package sessions

import (
	"context"
	"time"
)

// Repo persists sessions. Only the Manager writes to it.
type Repo interface {
	// Get returns a copy of the session or an error wrapping ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Save creates or replaces the session.
	Save(ctx context.Context, session *Session) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Sweep drops sessions that expired before the given time and reports how many.
	Sweep(ctx context.Context, before time.Time) (int, error)
}
