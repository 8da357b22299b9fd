// Package fake provides in-memory collaborator implementations for tests
// and single-node deployments without real ledger/custody integrations.
package fake

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"fundgate/internal/ports"
	id "fundgate/pkg/domain"
)

// Ledger is an in-memory token ledger.
type Ledger struct {
	mu       sync.Mutex
	balances map[id.Account]*big.Int
	supply   *big.Int

	// MintErr / BurnErr force the next call to fail, for failure-path
	// tests.
	MintErr error
	BurnErr error
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[id.Account]*big.Int),
		supply:   new(big.Int),
	}
}

func (l *Ledger) Mint(_ context.Context, account id.Account, tokensWad *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.MintErr != nil {
		err := l.MintErr
		l.MintErr = nil
		return err
	}
	bal, ok := l.balances[account]
	if !ok {
		bal = new(big.Int)
		l.balances[account] = bal
	}
	bal.Add(bal, tokensWad)
	l.supply.Add(l.supply, tokensWad)
	return nil
}

func (l *Ledger) Burn(_ context.Context, account id.Account, tokensWad *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BurnErr != nil {
		err := l.BurnErr
		l.BurnErr = nil
		return err
	}
	bal, ok := l.balances[account]
	if !ok || bal.Cmp(tokensWad) < 0 {
		return fmt.Errorf("insufficient balance for %s", account)
	}
	bal.Sub(bal, tokensWad)
	l.supply.Sub(l.supply, tokensWad)
	return nil
}

func (l *Ledger) BalanceOf(_ context.Context, account id.Account) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[account]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

func (l *Ledger) TotalSupply(_ context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply), nil
}

// Custodial is an in-memory capital account.
type Custodial struct {
	mu      sync.Mutex
	balance *big.Int

	// PayErr forces the next Pay to fail after an optional callback.
	PayErr error
	// OnPay runs inside Pay before balances move; reentrancy tests hook
	// it to call back into the service.
	OnPay func()
}

func NewCustodial(balance *big.Int) *Custodial {
	return &Custodial{balance: new(big.Int).Set(balance)}
}

func (c *Custodial) Pay(_ context.Context, _ id.Account, capital *big.Int) error {
	if c.OnPay != nil {
		c.OnPay()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PayErr != nil {
		err := c.PayErr
		c.PayErr = nil
		return err
	}
	if c.balance.Cmp(capital) < 0 {
		return fmt.Errorf("custodial balance %s below payment %s", c.balance, capital)
	}
	c.balance.Sub(c.balance, capital)
	return nil
}

func (c *Custodial) Fund(_ context.Context, _ id.Account, capital *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance.Add(c.balance, capital)
	return nil
}

func (c *Custodial) Balance(_ context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balance), nil
}

func (c *Custodial) LiquidityStatus(_ context.Context) (ports.LiquidityStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ports.LiquidityStatus{
		Available: new(big.Int).Set(c.balance),
		Healthy:   c.balance.Sign() > 0,
	}, nil
}

// Buffer is an in-memory instant redemption buffer.
type Buffer struct {
	mu      sync.Mutex
	balance *big.Int
	PayErr  error
}

func NewBuffer(balance *big.Int) *Buffer {
	return &Buffer{balance: new(big.Int).Set(balance)}
}

func (b *Buffer) Available(_ context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance), nil
}

func (b *Buffer) PayInstant(_ context.Context, _ id.Account, capital *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PayErr != nil {
		err := b.PayErr
		b.PayErr = nil
		return err
	}
	if b.balance.Cmp(capital) < 0 {
		return fmt.Errorf("buffer balance %s below payment %s", b.balance, capital)
	}
	b.balance.Sub(b.balance, capital)
	return nil
}

// Registry is a set-membership fake.
type Registry struct {
	mu      sync.Mutex
	members map[id.Account]bool
}

func NewRegistry(members ...id.Account) *Registry {
	r := &Registry{members: make(map[id.Account]bool)}
	for _, m := range members {
		r.members[m] = true
	}
	return r
}

func (r *Registry) Add(account id.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[account] = true
}

func (r *Registry) IsMember(_ context.Context, account id.Account) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[account], nil
}

// Config is a static eligibility source with a settable emergency level.
type Config struct {
	mu sync.Mutex
	e  ports.Eligibility
}

func NewConfig() *Config {
	return &Config{e: ports.Eligibility{
		MaxIssuanceRate:   new(big.Int),
		MaxCorrelationBps: 10_000,
		MaxUtilizationBps: 10_000,
	}}
}

func (c *Config) SetEmergencyLevel(level int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.e.EmergencyLevel = level
}

func (c *Config) Current(_ context.Context) (ports.Eligibility, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.e, nil
}
