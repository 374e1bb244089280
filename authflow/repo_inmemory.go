package authflow

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Flows and completion markers live in separate keyspaces so a state value can never
// address the other record type.
const (
	flowPrefix      = "flow:"
	completedPrefix = "done:"
)

// InMemoryRepo is a process-local Repo backed by go-cache. Expired flows are purged
// by the cache janitor.
type InMemoryRepo struct {
	mu    sync.Mutex
	cache *gocache.Cache
	ttl   time.Duration
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a repo whose entries expire after ttl.
func NewInMemoryRepo(ttl time.Duration) *InMemoryRepo {
	return &InMemoryRepo{
		cache: gocache.New(ttl, time.Minute),
		ttl:   ttl,
	}
}

func (r *InMemoryRepo) Store(_ context.Context, flow *Flow) error {
	if err := validateFlow(flow); err != nil {
		return err
	}
	copied := *flow
	r.cache.Set(flowPrefix+flow.State, copied, r.ttl)
	return nil
}

func (r *InMemoryRepo) Retrieve(_ context.Context, state string) (*Flow, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}
	v, ok := r.cache.Get(flowPrefix + state)
	if !ok {
		return nil, ErrFlowNotFound
	}
	flow, ok := v.(Flow)
	if !ok {
		return nil, ErrFlowNotFound
	}
	return &flow, nil
}

func (r *InMemoryRepo) Take(_ context.Context, state string) (*Flow, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.cache.Get(flowPrefix + state)
	if !ok {
		return nil, ErrFlowNotFound
	}
	flow, ok := v.(Flow)
	if !ok {
		return nil, ErrFlowNotFound
	}
	r.cache.Delete(flowPrefix + state)
	return &flow, nil
}

func (r *InMemoryRepo) Clear(_ context.Context, state string) error {
	if state == "" {
		return nil
	}
	r.cache.Delete(flowPrefix + state)
	return nil
}

func (r *InMemoryRepo) MarkCompleted(_ context.Context, state, sessionID string) error {
	if state == "" || sessionID == "" {
		return errors.New("state and sessionID are required")
	}
	r.cache.Set(completedPrefix+state, sessionID, r.ttl)
	return nil
}

func (r *InMemoryRepo) Completed(_ context.Context, state string) (string, error) {
	v, ok := r.cache.Get(completedPrefix + state)
	if !ok {
		return "", ErrFlowNotFound
	}
	sessionID, ok := v.(string)
	if !ok {
		return "", ErrFlowNotFound
	}
	return sessionID, nil
}

func (r *InMemoryRepo) Forget(_ context.Context, state string) error {
	r.cache.Delete(completedPrefix + state)
	return nil
}
