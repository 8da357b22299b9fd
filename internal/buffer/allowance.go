// Package buffer enforces the per-account daily allowance for the instant
// redemption lane. Consumption counters roll over at UTC midnight; expiry
// is handled by key TTLs (Redis) or lazy day comparison (memory), never by
// a background timer.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/requestcontext"
)

// AllowanceStore tracks consumed capital per account per UTC day.
type AllowanceStore interface {
	// Add atomically adds capital to the account's counter for the day
	// and returns the new total.
	Add(ctx context.Context, account id.Account, day string, capital *big.Int) (*big.Int, error)
	// Subtract refunds capital, clamping at zero.
	Subtract(ctx context.Context, account id.Account, day string, capital *big.Int) error
	// Consumed returns the counter for the day.
	Consumed(ctx context.Context, account id.Account, day string) (*big.Int, error)
}

type Service struct {
	store    AllowanceStore
	dailyCap *big.Int
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store AllowanceStore, dailyCap *big.Int, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("allowance store is required")
	}
	if dailyCap == nil || dailyCap.Sign() < 0 {
		return nil, fmt.Errorf("daily cap must be non-negative")
	}
	svc := &Service{store: store, dailyCap: new(big.Int).Set(dailyCap)}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func day(ctx context.Context) string {
	return requestcontext.Now(ctx).UTC().Format("2006-01-02")
}

// Consume reserves capital against today's allowance. The counter moves
// before any payment happens; a failed payment must Refund.
func (s *Service) Consume(ctx context.Context, account id.Account, capital *big.Int) error {
	if capital == nil || capital.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "capital must be positive")
	}

	total, err := s.store.Add(ctx, account, day(ctx), capital)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update daily allowance")
	}
	if total.Cmp(s.dailyCap) > 0 {
		// Undo the optimistic add so the rejected request does not eat
		// allowance.
		if err := s.store.Subtract(ctx, account, day(ctx), capital); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "allowance rollback failed",
				"account", account,
				"error", err.Error(),
			)
		}
		return dErrors.Newf(dErrors.CodeCapacityExceeded,
			"daily instant allowance exhausted for %s", account)
	}
	return nil
}

// Refund returns capital after a failed instant payment.
func (s *Service) Refund(ctx context.Context, account id.Account, capital *big.Int) error {
	if capital == nil || capital.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "capital must be positive")
	}
	if err := s.store.Subtract(ctx, account, day(ctx), capital); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to refund daily allowance")
	}
	return nil
}

// Remaining reports the unused allowance for today.
func (s *Service) Remaining(ctx context.Context, account id.Account) (*big.Int, error) {
	consumed, err := s.store.Consumed(ctx, account, day(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read daily allowance")
	}
	remaining := new(big.Int).Sub(s.dailyCap, consumed)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return remaining, nil
}
