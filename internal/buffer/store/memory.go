// Package store provides allowance counter backends: Redis with TTL-expired
// day keys, and an in-memory fallback that discards stale days lazily.
package store

import (
	"context"
	"math/big"
	"sync"

	id "fundgate/pkg/domain"
)

type entry struct {
	day      string
	consumed *big.Int
}

// InMemoryStore keeps one counter per account; a new day replaces the old
// counter on first touch.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[id.Account]*entry
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.Account]*entry)}
}

func (s *InMemoryStore) bucket(account id.Account, day string) *entry {
	e, ok := s.entries[account]
	if !ok || e.day != day {
		e = &entry{day: day, consumed: new(big.Int)}
		s.entries[account] = e
	}
	return e
}

func (s *InMemoryStore) Add(_ context.Context, account id.Account, day string, capital *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.bucket(account, day)
	e.consumed.Add(e.consumed, capital)
	return new(big.Int).Set(e.consumed), nil
}

func (s *InMemoryStore) Subtract(_ context.Context, account id.Account, day string, capital *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.bucket(account, day)
	e.consumed.Sub(e.consumed, capital)
	if e.consumed.Sign() < 0 {
		e.consumed.SetInt64(0)
	}
	return nil
}

func (s *InMemoryStore) Consumed(_ context.Context, account id.Account, day string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[account]
	if !ok || e.day != day {
		return new(big.Int), nil
	}
	return new(big.Int).Set(e.consumed), nil
}
