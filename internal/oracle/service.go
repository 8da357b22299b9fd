// Package oracle owns the NAV lifecycle: quorum-verified fresh updates, the
// time-driven degradation/haircut state machine, and the emergency override
// escape hatch. NavRay is only ever written here.
package oracle

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"fundgate/internal/oracle/metrics"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/platform/audit"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/requestcontext"
)

// Store persists the singleton NAV state.
type Store interface {
	Get(ctx context.Context) (*NavState, error)
	Put(ctx context.Context, state *NavState, expectedSequence uint64) error
	Seed(ctx context.Context, state *NavState) error
}

// AuditPublisher records oracle events; best-effort.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Keyring maps signer ids to their Ed25519 public keys.
type Keyring map[id.SignerID]ed25519.PublicKey

const (
	// overrideValidity bounds how stale an emergency signature may be.
	overrideValidity = 5 * time.Minute
	clockSkew        = 30 * time.Second
)

type Service struct {
	store Store

	mu               sync.RWMutex
	params           Params
	feedSigners      Keyring
	emergencySigners Keyring

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

func New(store Store, params Params, feedSigners, emergencySigners Keyring, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("oracle store is required")
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}

	svc := &Service{
		store:            store,
		params:           params,
		feedSigners:      feedSigners,
		emergencySigners: emergencySigners,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func validateParams(p Params) error {
	if p.StaleAfter <= 0 || p.DegradedAfter <= p.StaleAfter || p.EmergencyAfter <= p.DegradedAfter {
		return fmt.Errorf("degradation thresholds must ascend: %v < %v < %v", p.StaleAfter, p.DegradedAfter, p.EmergencyAfter)
	}
	if p.StaleHaircutBps > p.DegradedHaircutBps || p.DegradedHaircutBps > p.EmergencyHaircutBps {
		return fmt.Errorf("haircuts must be non-decreasing with level")
	}
	for _, bps := range []uint32{p.StaleHaircutBps, p.DegradedHaircutBps, p.EmergencyHaircutBps, p.MaxGrowthBpsPerDay, p.BandBps, p.MaxJumpBps} {
		if !fixedpoint.ValidBps(bps) {
			return fmt.Errorf("basis point parameter out of range: %d", bps)
		}
	}
	if p.Quorum < 1 {
		return fmt.Errorf("quorum must be at least 1")
	}
	return nil
}

// Seed installs the genesis NAV. Used once at deployment.
func (s *Service) Seed(ctx context.Context, navRay *big.Int) error {
	if navRay == nil || navRay.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "genesis NAV must be positive")
	}
	now := requestcontext.Now(ctx)
	state := &NavState{
		NavRay:         navRay,
		LastUpdateTime: now,
		UpdateSequence: 0,
		LastGoodRay:    navRay,
		LastGoodTime:   now,
	}
	if err := s.store.Seed(ctx, state); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "oracle already seeded")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to seed oracle")
	}
	return nil
}

// Params returns a copy of the current parameters.
func (s *Service) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetParams replaces the degradation parameters (governance path).
func (s *Service) SetParams(ctx context.Context, params Params) error {
	if err := validateParams(params); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid oracle parameters")
	}
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()

	s.emitAudit(ctx, audit.Event{
		Action: string(audit.EventParamsUpdated),
		Actor:  requestcontext.Actor(ctx),
		Reason: "oracle degradation parameters",
	})
	return nil
}

// Quote returns the NAV to use right now, with the degradation level that
// produced it. Degraded levels return the extrapolated, clamped and
// haircutted base instead of the raw stored value.
func (s *Service) Quote(ctx context.Context) (*Quote, error) {
	state, err := s.store.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "oracle not seeded")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load nav state")
	}

	now := requestcontext.Now(ctx)
	params := s.Params()
	level := levelAt(params, state, now)

	nav := state.NavRay
	if level != LevelNormal {
		nav = degradedNav(params, state, now, level)
	}
	if s.metrics != nil {
		s.metrics.SetLevel(int(level))
	}

	return &Quote{
		NavRay:   nav,
		Level:    level,
		Sequence: state.UpdateSequence,
		AsOf:     now,
	}, nil
}

// levelAt derives the degradation level purely from elapsed time and the
// override flag; no background timer exists.
func levelAt(p Params, state *NavState, now time.Time) DegradationLevel {
	if state.EmergencyOverride {
		return LevelEmergency
	}
	age := now.Sub(state.LastUpdateTime)
	switch {
	case age >= p.EmergencyAfter:
		return LevelEmergency
	case age >= p.DegradedAfter:
		return LevelDegraded
	case age >= p.StaleAfter:
		return LevelStale
	default:
		return LevelNormal
	}
}

// degradedNav grows the last known good value linearly at the capped daily
// rate, clamps into the symmetric band, then applies the tier haircut.
// Haircut after clamping keeps the result strictly conservative.
func degradedNav(p Params, state *NavState, now time.Time, level DegradationLevel) *big.Int {
	elapsed := now.Sub(state.LastGoodTime)
	if elapsed < 0 {
		elapsed = 0
	}

	// growth = lastGood * growthBpsPerDay * elapsedSeconds / (86400 * 10000)
	growthNum := new(big.Int).Mul(state.LastGoodRay, big.NewInt(int64(p.MaxGrowthBpsPerDay)))
	growthNum.Mul(growthNum, big.NewInt(int64(elapsed/time.Second)))
	growth := growthNum.Quo(growthNum, big.NewInt(86_400*fixedpoint.BpsDenominator))
	base := new(big.Int).Add(state.LastGoodRay, growth)

	lo, hi := fixedpoint.BandAround(state.LastGoodRay, p.BandBps)
	base = fixedpoint.Clamp(base, lo, hi)

	return fixedpoint.ApplyBps(base, fixedpoint.BpsDenominator-p.HaircutFor(level))
}

// SubmitUpdate verifies and applies a fresh quorum NAV update. Any accepted
// update exits degradation mode and re-seeds the good-value snapshot.
func (s *Service) SubmitUpdate(ctx context.Context, update Update) error {
	if update.NavRay == nil || update.NavRay.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "NAV must be positive")
	}

	state, err := s.store.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "oracle not seeded")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load nav state")
	}

	now := requestcontext.Now(ctx)
	params := s.Params()

	if update.Timestamp.Before(state.LastUpdateTime) {
		return s.rejectUpdate(ctx, dErrors.New(dErrors.CodeInvalidInput, "update timestamp regresses"))
	}
	if update.Sequence != state.UpdateSequence+1 {
		return s.rejectUpdate(ctx, dErrors.Newf(dErrors.CodeConflict, "expected sequence %d, got %d", state.UpdateSequence+1, update.Sequence))
	}

	digest := UpdateDigest(params, update.NavRay, update.Sequence, update.Timestamp)
	if got := s.countValidSigners(digest, update.Attestations); got < params.Quorum {
		return s.rejectUpdate(ctx, dErrors.Newf(dErrors.CodeQuorumNotMet, "%d of %d required signatures valid", got, params.Quorum))
	}

	level := levelAt(params, state, now)
	degraded := level != LevelNormal
	// Jump sanity only binds while healthy; the recovery update after an
	// outage legitimately moves further.
	if !degraded && !fixedpoint.WithinBps(update.NavRay, state.NavRay, params.MaxJumpBps) {
		return s.rejectUpdate(ctx, dErrors.Newf(dErrors.CodeInvalidInput, "NAV jump exceeds %d bps", params.MaxJumpBps))
	}

	next := state.Clone()
	next.NavRay = new(big.Int).Set(update.NavRay)
	next.LastUpdateTime = update.Timestamp
	next.UpdateSequence = update.Sequence
	next.LastGoodRay = new(big.Int).Set(update.NavRay)
	next.LastGoodTime = update.Timestamp
	next.EmergencyOverride = false

	if err := s.store.Put(ctx, next, state.UpdateSequence); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "concurrent oracle update")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store nav state")
	}

	if s.metrics != nil {
		s.metrics.IncrementUpdates()
		s.metrics.SetLevel(int(LevelNormal))
	}
	s.emitAudit(ctx, audit.Event{
		Action: string(audit.EventNavUpdated),
		Amount: update.NavRay.String(),
		Reason: fmt.Sprintf("sequence %d", update.Sequence),
	})
	if degraded && s.logger != nil {
		s.logger.InfoContext(ctx, "oracle exited degradation mode",
			"previous_level", level.String(),
			"sequence", update.Sequence,
		)
	}
	return nil
}

func (s *Service) rejectUpdate(ctx context.Context, err *dErrors.Error) error {
	if s.metrics != nil {
		s.metrics.IncrementRejected(string(err.Code()))
	}
	s.emitAudit(ctx, audit.Event{
		Action: string(audit.EventNavUpdateRejected),
		Reason: err.Message(),
	})
	return err
}

// countValidSigners verifies attestations against the feed keyring,
// counting each distinct signer once.
func (s *Service) countValidSigners(digest []byte, attestations []Attestation) int {
	s.mu.RLock()
	keyring := s.feedSigners
	s.mu.RUnlock()

	seen := make(map[id.SignerID]struct{}, len(attestations))
	for _, att := range attestations {
		if _, dup := seen[att.Signer]; dup {
			continue
		}
		key, ok := keyring[att.Signer]
		if !ok {
			continue
		}
		if ed25519.Verify(key, digest, att.Signature) {
			seen[att.Signer] = struct{}{}
		}
	}
	return len(seen)
}

// EmergencyOverride pushes a NAV value while the oracle is stale or worse.
// Exactly one valid emergency signature is required; quorum is bypassed.
// The override leaves the oracle in EMERGENCY_OVERRIDE until the next
// verified update and is recorded with a distinguishable audit action.
// signedAt is the timestamp the signer committed to; it must not be older
// than the emergency signature validity window.
func (s *Service) EmergencyOverride(ctx context.Context, navRay *big.Int, signer id.SignerID, signature []byte, signedAt time.Time) error {
	if navRay == nil || navRay.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "NAV must be positive")
	}

	state, err := s.store.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "oracle not seeded")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load nav state")
	}

	now := requestcontext.Now(ctx)
	params := s.Params()

	if levelAt(params, state, now) == LevelNormal {
		return dErrors.New(dErrors.CodeWrongState, "emergency override requires a degraded oracle")
	}
	if now.Sub(signedAt) > overrideValidity || signedAt.After(now.Add(clockSkew)) {
		return dErrors.New(dErrors.CodeExpired, "emergency signature outside validity window")
	}

	s.mu.RLock()
	key, known := s.emergencySigners[signer]
	s.mu.RUnlock()
	if !known {
		return dErrors.New(dErrors.CodeForbidden, "not an emergency signer")
	}
	digest := OverrideDigest(params, navRay, state.UpdateSequence, signedAt)
	if !ed25519.Verify(key, digest, signature) {
		return dErrors.New(dErrors.CodeInvalidSignature, "emergency signature invalid")
	}

	next := state.Clone()
	next.NavRay = new(big.Int).Set(navRay)
	next.LastGoodRay = new(big.Int).Set(navRay)
	next.LastGoodTime = now
	next.EmergencyOverride = true

	if err := s.store.Put(ctx, next, state.UpdateSequence); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "concurrent oracle update")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store nav state")
	}

	if s.metrics != nil {
		s.metrics.IncrementEmergencySets()
		s.metrics.SetLevel(int(LevelEmergency))
	}
	s.emitAudit(ctx, audit.Event{
		Action: string(audit.EventEmergencyNavSet),
		Actor:  requestcontext.Actor(ctx),
		Amount: navRay.String(),
		Reason: fmt.Sprintf("signer %s", signer),
	})
	if s.logger != nil {
		s.logger.WarnContext(ctx, "emergency NAV override applied",
			"signer", signer,
			"nav_ray", navRay.String(),
		)
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	event.UserAgent = requestcontext.UserAgent(ctx)
	_ = s.auditPublisher.Emit(ctx, event)
}
