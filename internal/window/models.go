package window

import (
	"math/big"
	"time"

	id "fundgate/pkg/domain"
)

// State is the redemption window lifecycle. Transitions run strictly
// forward: OPEN → CLOSED → STRUCK → SETTLED_PARTIAL → SETTLED_FULL, with
// SETTLED_PARTIAL re-entered on each carryover settlement until the total
// due is fully paid.
type State int

const (
	StateOpen State = iota + 1
	StateClosed
	StateStruck
	StateSettledPartial
	StateSettledFull
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateStruck:
		return "STRUCK"
	case StateSettledPartial:
		return "SETTLED_PARTIAL"
	case StateSettledFull:
		return "SETTLED_FULL"
	default:
		return "NONE"
	}
}

// Window is one redemption batch. NavAtStrikeRay and TotalDueCapital are
// frozen at strike; TotalPaidCapital accumulates across settlements.
type Window struct {
	ID    id.WindowID
	State State

	OpenTime   time.Time
	CloseTime  time.Time
	StrikeTime time.Time

	NavAtStrikeRay   *big.Int
	TotalDueCapital  *big.Int
	TotalPaidCapital *big.Int

	Version uint64
}

func (w *Window) Clone() *Window {
	clone := *w
	if w.NavAtStrikeRay != nil {
		clone.NavAtStrikeRay = new(big.Int).Set(w.NavAtStrikeRay)
	}
	if w.TotalDueCapital != nil {
		clone.TotalDueCapital = new(big.Int).Set(w.TotalDueCapital)
	}
	if w.TotalPaidCapital != nil {
		clone.TotalPaidCapital = new(big.Int).Set(w.TotalPaidCapital)
	}
	return &clone
}

// Settleable reports whether the window can accept settlement calls.
func (w *Window) Settleable() bool {
	return w.State == StateStruck || w.State == StateSettledPartial
}

// Claim is one user's entitlement from a closed window. TokensWad were
// surrendered at enqueue time; RemainingCapital is nil until the first
// settlement computes the due amount at the strike NAV.
type Claim struct {
	ID       id.ClaimID
	WindowID id.WindowID
	Account  id.Account

	TokensWad        *big.Int
	PaidCapital      *big.Int
	RemainingCapital *big.Int
	Closed           bool

	Version uint64
}

func (c *Claim) Clone() *Claim {
	clone := *c
	clone.TokensWad = new(big.Int).Set(c.TokensWad)
	if c.PaidCapital != nil {
		clone.PaidCapital = new(big.Int).Set(c.PaidCapital)
	}
	if c.RemainingCapital != nil {
		clone.RemainingCapital = new(big.Int).Set(c.RemainingCapital)
	}
	return &clone
}

// Params bound window timing and batch work.
type Params struct {
	// MinDuration is the least allowed gap between open and close times.
	MinDuration time.Duration
	// SettleDelay is the cooling-off period after strike before any
	// settlement may run.
	SettleDelay time.Duration
	// MaxClaimBatch caps how many claims one MintClaims call produces.
	MaxClaimBatch int
}
