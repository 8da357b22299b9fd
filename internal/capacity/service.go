// Package capacity owns per-jurisdiction issuance budgets and is the sole
// writer of utilization. Issuance reserves capacity before minting and
// releases it if the mint fails; redemptions release it on settlement.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"fundgate/internal/capacity/metrics"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/platform/audit"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/requestcontext"
)

// Store persists capacity records. Put must reject a stale Version with
// sentinel.ErrConflict.
type Store interface {
	Get(ctx context.Context, jurisdiction id.Jurisdiction) (*SovereignCapacityRecord, error)
	Put(ctx context.Context, rec *SovereignCapacityRecord, expectedVersion uint64) error
	Create(ctx context.Context, rec *SovereignCapacityRecord) error
	List(ctx context.Context) ([]*SovereignCapacityRecord, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// casRetries bounds optimistic write retries before giving up with a
// conflict error.
const casRetries = 3

type Service struct {
	store    Store
	slopeBps uint32

	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, slopeBps uint32, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("capacity store is required")
	}
	if !fixedpoint.ValidBps(slopeBps) {
		return nil, fmt.Errorf("slope out of range: %d", slopeBps)
	}
	svc := &Service{store: store, slopeBps: slopeBps}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check reports whether the jurisdiction can absorb requestedAmount right
// now, without reserving anything.
func (s *Service) Check(ctx context.Context, jurisdiction id.Jurisdiction, requestedAmount *big.Int) (*Decision, error) {
	if err := validAmount(requestedAmount); err != nil {
		return nil, err
	}
	rec, err := s.get(ctx, jurisdiction)
	if err != nil {
		return nil, err
	}
	return s.decide(rec, requestedAmount), nil
}

func (s *Service) decide(rec *SovereignCapacityRecord, requestedAmount *big.Int) *Decision {
	effective := EffectiveCap(rec, s.slopeBps)
	headroom := new(big.Int).Sub(rec.HardCap, rec.Utilized)
	allowed := rec.Enabled &&
		requestedAmount.Cmp(effective) <= 0 &&
		requestedAmount.Cmp(headroom) <= 0
	return &Decision{
		Allowed:      allowed,
		EffectiveCap: effective,
		Utilized:     new(big.Int).Set(rec.Utilized),
	}
}

// Reserve runs the capacity check and, if allowed, adds requestedAmount to
// the jurisdiction's utilization in one optimistic transaction.
func (s *Service) Reserve(ctx context.Context, jurisdiction id.Jurisdiction, requestedAmount *big.Int) error {
	if err := validAmount(requestedAmount); err != nil {
		return err
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := s.get(ctx, jurisdiction)
		if err != nil {
			return err
		}

		decision := s.decide(rec, requestedAmount)
		if !decision.Allowed {
			if s.metrics != nil {
				s.metrics.IncrementDenied(jurisdiction.String())
			}
			return dErrors.Newf(dErrors.CodeCapacityExceeded,
				"jurisdiction %s: requested %s exceeds effective capacity %s",
				jurisdiction, requestedAmount, decision.EffectiveCap)
		}

		next := rec.Clone()
		next.Utilized.Add(next.Utilized, requestedAmount)
		next.UpdatedAt = requestcontext.Now(ctx)

		err = s.store.Put(ctx, next, rec.Version)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store capacity record")
		}
		s.observe(jurisdiction, next)
		return nil
	}
	return dErrors.New(dErrors.CodeConflict, "capacity record contention, retry")
}

// Release returns previously reserved capacity, clamping at zero. Used to
// roll back a failed mint and on redemption settlement.
func (s *Service) Release(ctx context.Context, jurisdiction id.Jurisdiction, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := s.get(ctx, jurisdiction)
		if err != nil {
			return err
		}

		next := rec.Clone()
		next.Utilized.Sub(next.Utilized, amount)
		if next.Utilized.Sign() < 0 {
			next.Utilized.SetInt64(0)
		}
		next.UpdatedAt = requestcontext.Now(ctx)

		err = s.store.Put(ctx, next, rec.Version)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store capacity record")
		}
		s.observe(jurisdiction, next)
		return nil
	}
	return dErrors.New(dErrors.CodeConflict, "capacity record contention, retry")
}

// Upsert creates or replaces a record's governance parameters, preserving
// accumulated utilization on update.
func (s *Service) Upsert(ctx context.Context, rec *SovereignCapacityRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	current, err := s.store.Get(ctx, rec.Jurisdiction)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load capacity record")
	}

	// Governance payloads carry parameters only; utilization is owned here.
	src := *rec
	if src.Utilized == nil {
		src.Utilized = new(big.Int)
	}
	next := src.Clone()
	next.UpdatedAt = requestcontext.Now(ctx)
	if current == nil {
		next.Utilized = new(big.Int)
		if err := s.store.Create(ctx, next); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "capacity record contention, retry")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create capacity record")
		}
	} else {
		next.Utilized = new(big.Int).Set(current.Utilized)
		if err := s.store.Put(ctx, next, current.Version); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "capacity record contention, retry")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store capacity record")
		}
	}

	s.emitAudit(ctx, audit.Event{
		Action:       string(audit.EventCapacityUpdated),
		Actor:        requestcontext.Actor(ctx),
		Jurisdiction: rec.Jurisdiction,
		Amount:       rec.HardCap.String(),
	})
	s.observe(rec.Jurisdiction, next)
	return nil
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, jurisdiction id.Jurisdiction) (*SovereignCapacityRecord, error) {
	return s.get(ctx, jurisdiction)
}

// List returns all records.
func (s *Service) List(ctx context.Context) ([]*SovereignCapacityRecord, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list capacity records")
	}
	return recs, nil
}

func (s *Service) get(ctx context.Context, jurisdiction id.Jurisdiction) (*SovereignCapacityRecord, error) {
	rec, err := s.store.Get(ctx, jurisdiction)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown jurisdiction %s", jurisdiction)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load capacity record")
	}
	return rec, nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}
	return nil
}

func validateRecord(rec *SovereignCapacityRecord) error {
	if rec == nil || rec.Jurisdiction.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "jurisdiction is required")
	}
	if rec.SoftCap == nil || rec.HardCap == nil || rec.SoftCap.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "caps are required")
	}
	if rec.SoftCap.Cmp(rec.HardCap) > 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "soft cap must not exceed hard cap")
	}
	for _, bps := range []uint32{rec.UtilizationCapBps, rec.HaircutBps, rec.WeightBps} {
		if !fixedpoint.ValidBps(bps) {
			return dErrors.Newf(dErrors.CodeInvalidInput, "basis point value out of range: %d", bps)
		}
	}
	return nil
}

func (s *Service) observe(jurisdiction id.Jurisdiction, rec *SovereignCapacityRecord) {
	if s.metrics == nil {
		return
	}
	s.metrics.SetUtilization(jurisdiction.String(), rec.Utilized)
	s.metrics.SetEffectiveCap(jurisdiction.String(), EffectiveCap(rec, s.slopeBps))
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	_ = s.auditPublisher.Emit(ctx, event)
}
