package store

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"fundgate/internal/window"
	id "fundgate/pkg/domain"
	"fundgate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu sync.Mutex

	windows    map[id.WindowID]*window.Window
	pending    map[id.WindowID]map[id.Account]*big.Int
	claims     map[id.ClaimID]*window.Claim
	nextWindow uint64
	nextClaim  uint64
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		windows: make(map[id.WindowID]*window.Window),
		pending: make(map[id.WindowID]map[id.Account]*big.Int),
		claims:  make(map[id.ClaimID]*window.Claim),
	}
}

func (s *InMemoryStore) CreateWindow(_ context.Context, w *window.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.windows {
		if existing.State == window.StateOpen {
			return sentinel.ErrConflict
		}
	}
	s.nextWindow++
	w.ID = id.WindowID(s.nextWindow)
	w.Version = 1
	s.windows[w.ID] = w.Clone()
	return nil
}

func (s *InMemoryStore) GetWindow(_ context.Context, windowID id.WindowID) (*window.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return w.Clone(), nil
}

func (s *InMemoryStore) OpenWindow(_ context.Context) (*window.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		if w.State == window.StateOpen {
			return w.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) PutWindow(_ context.Context, w *window.Window, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.windows[w.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	next := w.Clone()
	next.Version = expectedVersion + 1
	s.windows[w.ID] = next
	return nil
}

func (s *InMemoryStore) AddPending(_ context.Context, windowID id.WindowID, account id.Account, tokensWad *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[windowID]; !ok {
		return sentinel.ErrNotFound
	}
	balances, ok := s.pending[windowID]
	if !ok {
		balances = make(map[id.Account]*big.Int)
		s.pending[windowID] = balances
	}
	bal, ok := balances[account]
	if !ok {
		bal = new(big.Int)
		balances[account] = bal
	}
	bal.Add(bal, tokensWad)
	return nil
}

func (s *InMemoryStore) PendingTotal(_ context.Context, windowID id.WindowID) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := new(big.Int)
	for _, bal := range s.pending[windowID] {
		total.Add(total, bal)
	}
	return total, nil
}

func (s *InMemoryStore) GetPending(_ context.Context, windowID id.WindowID, account id.Account) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.pending[windowID][account]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

func (s *InMemoryStore) PendingAccounts(_ context.Context, windowID id.WindowID, limit int) ([]id.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accounts []id.Account
	for account, bal := range s.pending[windowID] {
		if bal.Sign() > 0 {
			accounts = append(accounts, account)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

// MintClaim atomically converts an account's pending balance into a claim.
// Zero pending returns sentinel.ErrNotFound without side effects.
func (s *InMemoryStore) MintClaim(_ context.Context, windowID id.WindowID, account id.Account) (*window.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.pending[windowID][account]
	if !ok || bal.Sign() == 0 {
		return nil, sentinel.ErrNotFound
	}

	s.nextClaim++
	claim := &window.Claim{
		ID:          id.ClaimID(s.nextClaim),
		WindowID:    windowID,
		Account:     account,
		TokensWad:   new(big.Int).Set(bal),
		PaidCapital: new(big.Int),
		Version:     1,
	}
	s.claims[claim.ID] = claim
	delete(s.pending[windowID], account)
	return claim.Clone(), nil
}

func (s *InMemoryStore) GetClaim(_ context.Context, claimID id.ClaimID) (*window.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claimID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) ListClaims(_ context.Context, windowID id.WindowID) ([]*window.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claims []*window.Claim
	for _, c := range s.claims {
		if c.WindowID == windowID {
			claims = append(claims, c.Clone())
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].ID < claims[j].ID })
	return claims, nil
}

func (s *InMemoryStore) PutClaim(_ context.Context, c *window.Claim, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.claims[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	next := c.Clone()
	next.Version = expectedVersion + 1
	s.claims[c.ID] = next
	return nil
}
