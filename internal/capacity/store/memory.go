package store

import (
	"context"
	"sort"
	"sync"

	"fundgate/internal/capacity"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
)

// InMemoryStore keeps capacity records in a map. Used by unit tests and
// single-node deployments without Postgres.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.Jurisdiction]*capacity.SovereignCapacityRecord
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.Jurisdiction]*capacity.SovereignCapacityRecord)}
}

func (s *InMemoryStore) Get(_ context.Context, jurisdiction id.Jurisdiction) (*capacity.SovereignCapacityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[jurisdiction]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Put(_ context.Context, rec *capacity.SovereignCapacityRecord, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.Jurisdiction]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	next := rec.Clone()
	next.Version = expectedVersion + 1
	s.records[rec.Jurisdiction] = next
	return nil
}

func (s *InMemoryStore) Create(_ context.Context, rec *capacity.SovereignCapacityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Jurisdiction]; exists {
		return sentinel.ErrConflict
	}
	next := rec.Clone()
	next.Version = 1
	s.records[rec.Jurisdiction] = next
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*capacity.SovereignCapacityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*capacity.SovereignCapacityRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec.Clone())
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Jurisdiction < recs[j].Jurisdiction })
	return recs, nil
}
