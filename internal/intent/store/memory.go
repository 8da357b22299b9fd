package store

import (
	"context"
	"sync"

	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu     sync.Mutex
	nonces map[id.SignerID]uint64
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{nonces: make(map[id.SignerID]uint64)}
}

func (s *InMemoryStore) Get(_ context.Context, signer id.SignerID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[signer], nil
}

func (s *InMemoryStore) Advance(_ context.Context, signer id.SignerID, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nonces[signer] != expected {
		return sentinel.ErrConflict
	}
	s.nonces[signer] = expected + 1
	return nil
}
