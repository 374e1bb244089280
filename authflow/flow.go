// Package authflow keeps the transient correlation data of an in-flight sign-in: the
// PKCE verifier and state issued before redirecting to the identity provider. Entries
// live only for one round trip.
package authflow

import (
	"context"
	"errors"
	"time"
)

var ErrFlowNotFound = errors.New("auth flow not found")

// Flow is the state persisted between the authorize redirect and the callback.
type Flow struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	ReturnTo     string    `json:"return_to,omitempty"`
	SessionID    string    `json:"session_id,omitempty"` // pending session awaiting the callback
	CreatedAt    time.Time `json:"created_at"`
}

// Repo stores flows keyed by state. Implementations expire entries after their TTL.
type Repo interface {
	// Store saves a flow under flow.State.
	Store(ctx context.Context, flow *Flow) error

	// Retrieve returns the flow without consuming it.
	Retrieve(ctx context.Context, state string) (*Flow, error)

	// Take returns the flow and removes it in one step so a verifier is used at most once.
	Take(ctx context.Context, state string) (*Flow, error)

	// Clear removes the flow. Clearing a missing flow is not an error.
	Clear(ctx context.Context, state string) error

	// MarkCompleted records the session created for state, so duplicate callbacks
	// resolve to the same session.
	MarkCompleted(ctx context.Context, state, sessionID string) error

	// Completed returns the session recorded by MarkCompleted or ErrFlowNotFound.
	Completed(ctx context.Context, state string) (string, error)

	// Forget drops the completion marker for state.
	Forget(ctx context.Context, state string) error
}

func validateFlow(flow *Flow) error {
	if flow == nil {
		return errors.New("flow cannot be nil")
	}
	if flow.State == "" {
		return errors.New("state cannot be empty")
	}
	if flow.CodeVerifier == "" {
		return errors.New("code verifier cannot be empty")
	}
	return nil
}
