// Package store defines the durable Call Session Store and its in-memory
// implementation. All mutation flows through Update, which serializes
// writers per session ID; cross-session writes are fully independent.
package store

import (
	"context"
	"errors"

	"github.com/dialscope/dialscope/pkg/core/types"
)

// ErrNotFound is returned when no session matches the lookup key.
var ErrNotFound = errors.New("store: call session not found")

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Owner    string
	Strategy types.Strategy
	State    types.LifecycleState
	Limit    int
	Offset   int
}

// Store is the durable record of call sessions.
type Store interface {
	// Create persists a new session. The session ID must be unique.
	Create(ctx context.Context, s *types.CallSession) error

	// Get returns a copy of the session with the given ID.
	Get(ctx context.Context, id string) (*types.CallSession, error)

	// GetByProviderCallID returns a copy of the session owning the given
	// provider call identifier.
	GetByProviderCallID(ctx context.Context, providerCallID string) (*types.CallSession, error)

	// Update applies fn to the session under a per-session write lock and
	// persists the result. fn sees the current state and mutates it in
	// place; returning an error aborts the update. The updated copy is
	// returned on success.
	Update(ctx context.Context, id string, fn func(*types.CallSession) error) (*types.CallSession, error)

	// List returns sessions matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*types.CallSession, error)
}
