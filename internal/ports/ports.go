// Package ports declares the external collaborator interfaces the
// settlement engine drives: the token ledger, the custodial capital
// account, the instant redemption buffer, and membership/eligibility
// sources. Implementations live outside this service; fakes for tests and
// single-node deployments are in the fake subpackage.
package ports

import (
	"context"
	"math/big"

	id "fundgate/pkg/domain"
)

// Ledger mints and burns fund tokens (WAD scale). Calls may re-enter the
// service before returning; callers must finish their own bookkeeping
// before invoking it.
type Ledger interface {
	Mint(ctx context.Context, account id.Account, tokensWad *big.Int) error
	Burn(ctx context.Context, account id.Account, tokensWad *big.Int) error
	BalanceOf(ctx context.Context, account id.Account) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
}

// LiquidityStatus summarizes the custodial account's health.
type LiquidityStatus struct {
	Available *big.Int
	Healthy   bool
}

// CustodialAccount holds the fund's capital. Pay moves capital out to an
// account and may fail; the caller owns rollback of its bookkeeping.
type CustodialAccount interface {
	Pay(ctx context.Context, to id.Account, capital *big.Int) error
	Fund(ctx context.Context, from id.Account, capital *big.Int) error
	Balance(ctx context.Context) (*big.Int, error)
	LiquidityStatus(ctx context.Context) (LiquidityStatus, error)
}

// InstantBuffer pays small redemptions immediately, outside the window
// machinery.
type InstantBuffer interface {
	Available(ctx context.Context) (*big.Int, error)
	PayInstant(ctx context.Context, to id.Account, capital *big.Int) error
}

// MembershipRegistry answers whether an account may transact at all.
type MembershipRegistry interface {
	IsMember(ctx context.Context, account id.Account) (bool, error)
}

// Eligibility carries the current risk posture. EmergencyLevel ranges 0-3;
// instant-lane price bounds tighten as it rises.
type Eligibility struct {
	EmergencyLevel    int
	MaxIssuanceRate   *big.Int
	MaxCorrelationBps uint32
	MaxUtilizationBps uint32
}

// EligibilityConfig is the source of the current Eligibility.
type EligibilityConfig interface {
	Current(ctx context.Context) (Eligibility, error)
}
