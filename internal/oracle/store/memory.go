package store

import (
	"context"
	"sync"

	"fundgate/internal/oracle"
	"fundgate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	state *oracle.NavState
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Get(_ context.Context) (*oracle.NavState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.state.Clone(), nil
}

func (s *InMemoryStore) Put(_ context.Context, state *oracle.NavState, expectedSequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return sentinel.ErrNotFound
	}
	if s.state.UpdateSequence != expectedSequence {
		return sentinel.ErrConflict
	}
	s.state = state.Clone()
	return nil
}

func (s *InMemoryStore) Seed(_ context.Context, state *oracle.NavState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		return sentinel.ErrConflict
	}
	s.state = state.Clone()
	return nil
}
