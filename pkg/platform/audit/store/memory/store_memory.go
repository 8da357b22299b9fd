package memory

import (
	"context"
	"sync"

	id "fundgate/pkg/domain"
	audit "fundgate/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByAccount returns the events recorded for one account, in order.
func (s *InMemoryStore) ListByAccount(_ context.Context, account id.Account) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.events {
		if e.Account == account {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAll returns all recorded events in order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...), nil
}

// ListRecent returns the most recent N events.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.events) - limit
	if start < 0 {
		start = 0
	}
	return append([]audit.Event{}, s.events[start:]...), nil
}
