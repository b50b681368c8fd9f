package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dialscope/dialscope/pkg/core/types"
)

// Memory is an in-process Store used in tests and single-node deployments
// without a database. Each session carries its own write lock so concurrent
// updates to different sessions never contend.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	byCallID map[string]string // providerCallID -> session ID
}

type entry struct {
	mu      sync.Mutex
	session *types.CallSession
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*entry),
		byCallID: make(map[string]string),
	}
}

func (m *Memory) Create(_ context.Context, s *types.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("store: session %q already exists", s.ID)
	}
	m.sessions[s.ID] = &entry{session: s.Clone()}
	if s.ProviderCallID != "" {
		m.byCallID[s.ProviderCallID] = s.ID
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*types.CallSession, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

func (m *Memory) GetByProviderCallID(ctx context.Context, providerCallID string) (*types.CallSession, error) {
	m.mu.RLock()
	id, ok := m.byCallID[providerCallID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *Memory) Update(_ context.Context, id string, fn func(*types.CallSession) error) (*types.CallSession, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.session.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	prevCallID := e.session.ProviderCallID
	e.session = next

	if next.ProviderCallID != "" && next.ProviderCallID != prevCallID {
		m.mu.Lock()
		m.byCallID[next.ProviderCallID] = id
		m.mu.Unlock()
	}
	return next.Clone(), nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]*types.CallSession, error) {
	m.mu.RLock()
	all := make([]*types.CallSession, 0, len(m.sessions))
	for _, e := range m.sessions {
		e.mu.Lock()
		all = append(all, e.session.Clone())
		e.mu.Unlock()
	}
	m.mu.RUnlock()

	filtered := all[:0]
	for _, s := range all {
		if f.Owner != "" && s.Owner != f.Owner {
			continue
		}
		if f.Strategy != "" && s.Strategy != f.Strategy {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		filtered = append(filtered, s)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[f.Offset:]
	}
	if f.Limit > 0 && len(filtered) > f.Limit {
		filtered = filtered[:f.Limit]
	}
	return filtered, nil
}
