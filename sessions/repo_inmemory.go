package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
)

// InMemoryRepo is a process-local Repo. It stores copies so callers never share state
// with the repository.
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Repo = (*InMemoryRepo)(nil)

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]*Session),
	}
}

func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("[InMemoryRepo.Get] %w", apperrors.ErrSessionNotFound)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("[InMemoryRepo.Get] %w", apperrors.ErrSessionNotFound)
	}
	return s.Clone(), nil
}

func (r *InMemoryRepo) Save(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("[InMemoryRepo.Save] session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

func (r *InMemoryRepo) Sweep(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.Expired(before) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (r *InMemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
