// Package window runs the redemption window lifecycle: open, queue, close,
// mint claims, strike against the oracle NAV, and settle claims with
// carryover. Settlement bookkeeping always lands before the external
// payment call, and a failed payment rolls the bookkeeping back.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"fundgate/internal/oracle"
	"fundgate/internal/ports"
	"fundgate/internal/window/metrics"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/platform/audit"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/requestcontext"
)

// Store persists windows, pending balances, and claims.
type Store interface {
	CreateWindow(ctx context.Context, w *Window) error
	GetWindow(ctx context.Context, windowID id.WindowID) (*Window, error)
	OpenWindow(ctx context.Context) (*Window, error)
	PutWindow(ctx context.Context, w *Window, expectedVersion uint64) error

	AddPending(ctx context.Context, windowID id.WindowID, account id.Account, tokensWad *big.Int) error
	PendingTotal(ctx context.Context, windowID id.WindowID) (*big.Int, error)
	GetPending(ctx context.Context, windowID id.WindowID, account id.Account) (*big.Int, error)
	PendingAccounts(ctx context.Context, windowID id.WindowID, limit int) ([]id.Account, error)
	MintClaim(ctx context.Context, windowID id.WindowID, account id.Account) (*Claim, error)

	GetClaim(ctx context.Context, claimID id.ClaimID) (*Claim, error)
	ListClaims(ctx context.Context, windowID id.WindowID) ([]*Claim, error)
	PutClaim(ctx context.Context, c *Claim, expectedVersion uint64) error
}

// NavSource supplies the NAV frozen at strike, degradation haircut
// included.
type NavSource interface {
	Quote(ctx context.Context) (*oracle.Quote, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store     Store
	nav       NavSource
	custodial ports.CustodialAccount
	params    Params

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

func New(store Store, nav NavSource, custodial ports.CustodialAccount, params Params, opts ...Option) (*Service, error) {
	if store == nil || nav == nil || custodial == nil {
		return nil, fmt.Errorf("store, nav source and custodial account are required")
	}
	if params.MinDuration <= 0 || params.SettleDelay < 0 {
		return nil, fmt.Errorf("invalid window timing parameters")
	}
	if params.MaxClaimBatch <= 0 {
		return nil, fmt.Errorf("claim batch limit must be positive")
	}
	svc := &Service{store: store, nav: nav, custodial: custodial, params: params}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Open starts a new window. Only one window may be OPEN at a time and the
// close time must honor the minimum duration.
func (s *Service) Open(ctx context.Context, closeTime time.Time) (*Window, error) {
	now := requestcontext.Now(ctx)
	if closeTime.Before(now.Add(s.params.MinDuration)) {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"close time must be at least %s from now", s.params.MinDuration)
	}

	w := &Window{
		State:            StateOpen,
		OpenTime:         now,
		CloseTime:        closeTime,
		TotalDueCapital:  new(big.Int),
		TotalPaidCapital: new(big.Int),
	}
	if err := s.store.CreateWindow(ctx, w); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeWrongState, "another window is already open")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create window")
	}

	if s.metrics != nil {
		s.metrics.WindowOpened()
	}
	s.emitAudit(ctx, audit.Event{
		Action:   string(audit.EventWindowOpened),
		Actor:    requestcontext.Actor(ctx),
		WindowID: w.ID,
	})
	return w, nil
}

// Enqueue adds surrendered tokens to the open window's queue. The caller
// has already taken the tokens from the user.
func (s *Service) Enqueue(ctx context.Context, account id.Account, tokensWad *big.Int) (id.WindowID, error) {
	if tokensWad == nil || tokensWad.Sign() <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "token amount must be positive")
	}

	w, err := s.store.OpenWindow(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeWrongState, "no redemption window is open")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load open window")
	}

	if err := s.store.AddPending(ctx, w.ID, account, tokensWad); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue redemption")
	}

	if s.metrics != nil {
		s.metrics.TokensQueued(tokensWad)
	}
	s.emitAudit(ctx, audit.Event{
		Action:   string(audit.EventRedeemQueued),
		Account:  account,
		WindowID: w.ID,
		Amount:   tokensWad.String(),
	})
	return w.ID, nil
}

// Close transitions OPEN → CLOSED, allowed only at or after the window's
// close time.
func (s *Service) Close(ctx context.Context, windowID id.WindowID) (*Window, error) {
	w, err := s.getWindow(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if w.State != StateOpen {
		return nil, dErrors.Newf(dErrors.CodeWrongState, "window %d is %s, not OPEN", windowID, w.State)
	}
	if requestcontext.Now(ctx).Before(w.CloseTime) {
		return nil, dErrors.Newf(dErrors.CodeTooEarly, "window %d closes at %s", windowID, w.CloseTime.Format(time.RFC3339))
	}

	next := w.Clone()
	next.State = StateClosed
	if err := s.putWindow(ctx, next, w.Version); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, audit.Event{
		Action:   string(audit.EventWindowClosed),
		Actor:    requestcontext.Actor(ctx),
		WindowID: windowID,
	})
	return next, nil
}

// MintClaims converts pending balances of a CLOSED window into claims, at
// most MaxClaimBatch per call. Users are processed independently; an
// account whose pending balance vanished concurrently is skipped. Returns
// how many claims were minted and how many accounts still wait.
func (s *Service) MintClaims(ctx context.Context, windowID id.WindowID) (minted, remaining int, err error) {
	w, err := s.getWindow(ctx, windowID)
	if err != nil {
		return 0, 0, err
	}
	if w.State != StateClosed {
		return 0, 0, dErrors.Newf(dErrors.CodeWrongState, "window %d is %s, not CLOSED", windowID, w.State)
	}

	accounts, err := s.store.PendingAccounts(ctx, windowID, s.params.MaxClaimBatch)
	if err != nil {
		return 0, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending accounts")
	}

	for _, account := range accounts {
		claim, err := s.store.MintClaim(ctx, windowID, account)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return minted, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint claim")
		}
		minted++
		if s.metrics != nil {
			s.metrics.ClaimMinted()
		}
		s.emitAudit(ctx, audit.Event{
			Action:   string(audit.EventClaimsMinted),
			Account:  account,
			WindowID: windowID,
			ClaimID:  claim.ID,
			Amount:   claim.TokensWad.String(),
		})
	}

	left, err := s.store.PendingAccounts(ctx, windowID, 0)
	if err != nil {
		return minted, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count pending accounts")
	}
	return minted, len(left), nil
}

// Strike freezes the settlement NAV for a CLOSED window. All pending
// balances must already be minted into claims so the frozen total due
// covers everyone.
func (s *Service) Strike(ctx context.Context, windowID id.WindowID) (*Window, error) {
	w, err := s.getWindow(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if w.State != StateClosed {
		return nil, dErrors.Newf(dErrors.CodeWrongState, "window %d is %s, not CLOSED", windowID, w.State)
	}

	pending, err := s.store.PendingTotal(ctx, windowID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read pending total")
	}
	if pending.Sign() > 0 {
		return nil, dErrors.Newf(dErrors.CodeWrongState,
			"window %d still has %s pending tokens unminted", windowID, pending)
	}

	quote, err := s.nav.Quote(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := s.store.ListClaims(ctx, windowID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	totalDue := new(big.Int)
	for _, c := range claims {
		totalDue.Add(totalDue, fixedpoint.TokensToCapital(c.TokensWad, quote.NavRay))
	}

	next := w.Clone()
	next.State = StateStruck
	next.StrikeTime = requestcontext.Now(ctx)
	next.NavAtStrikeRay = new(big.Int).Set(quote.NavRay)
	next.TotalDueCapital = totalDue
	if totalDue.Sign() == 0 {
		next.State = StateSettledFull
	}
	if err := s.putWindow(ctx, next, w.Version); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, audit.Event{
		Action:   string(audit.EventWindowStruck),
		Actor:    requestcontext.Actor(ctx),
		WindowID: windowID,
		Amount:   totalDue.String(),
		Reason:   fmt.Sprintf("nav %s at level %s", quote.NavRay, quote.Level),
	})
	return next, nil
}

// SettleClaim pays one claim as far as custodial liquidity allows. The
// claim and window carry version snapshots so a failed payment restores
// the exact pre-call accounting.
func (s *Service) SettleClaim(ctx context.Context, windowID id.WindowID, claimID id.ClaimID) (*Claim, error) {
	w, err := s.getWindow(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if !w.Settleable() {
		return nil, dErrors.Newf(dErrors.CodeWrongState, "window %d is %s, not settleable", windowID, w.State)
	}
	now := requestcontext.Now(ctx)
	if now.Before(w.StrikeTime.Add(s.params.SettleDelay)) {
		return nil, dErrors.Newf(dErrors.CodeTooEarly,
			"settlement opens at %s", w.StrikeTime.Add(s.params.SettleDelay).Format(time.RFC3339))
	}

	claim, err := s.getClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.WindowID != windowID {
		return nil, dErrors.Newf(dErrors.CodeConflict,
			"claim %d belongs to window %d, not %d", claimID, claim.WindowID, windowID)
	}
	if claim.Closed {
		return nil, dErrors.Newf(dErrors.CodeWrongState, "claim %d already settled", claimID)
	}

	due := claim.RemainingCapital
	if due == nil {
		due = fixedpoint.TokensToCapital(claim.TokensWad, w.NavAtStrikeRay)
	}

	available, err := s.custodial.Balance(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "failed to read custodial balance")
	}
	pay := fixedpoint.Min(due, available)
	if pay.Sign() == 0 {
		return nil, dErrors.New(dErrors.CodeLiquidityShortfall, "no custodial liquidity available")
	}

	// Bookkeeping lands first so a reentrant callee sees the post-payment
	// state and cannot double-draw.
	nextClaim := claim.Clone()
	nextClaim.PaidCapital.Add(nextClaim.PaidCapital, pay)
	nextClaim.RemainingCapital = new(big.Int).Sub(due, pay)
	nextClaim.Closed = nextClaim.RemainingCapital.Sign() == 0

	nextWindow := w.Clone()
	nextWindow.TotalPaidCapital.Add(nextWindow.TotalPaidCapital, pay)
	if nextWindow.TotalPaidCapital.Cmp(nextWindow.TotalDueCapital) >= 0 {
		nextWindow.State = StateSettledFull
	} else {
		nextWindow.State = StateSettledPartial
	}

	if err := s.putClaim(ctx, nextClaim, claim.Version); err != nil {
		return nil, err
	}
	if err := s.putWindow(ctx, nextWindow, w.Version); err != nil {
		// Undo the claim write so accounting stays consistent.
		s.rollbackClaim(ctx, claim, nextClaim.Version)
		return nil, err
	}

	if err := s.custodial.Pay(ctx, claim.Account, pay); err != nil {
		s.rollbackClaim(ctx, claim, nextClaim.Version)
		s.rollbackWindow(ctx, w, nextWindow.Version)
		if s.metrics != nil {
			s.metrics.PaymentFailed()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "custodial payment failed")
	}

	if s.metrics != nil {
		s.metrics.CapitalSettled(pay)
	}
	s.emitAudit(ctx, audit.Event{
		Action:   string(audit.EventClaimSettled),
		Account:  claim.Account,
		WindowID: windowID,
		ClaimID:  claimID,
		Amount:   pay.String(),
	})
	if nextWindow.State == StateSettledFull {
		s.emitAudit(ctx, audit.Event{
			Action:   string(audit.EventWindowSettled),
			WindowID: windowID,
			Amount:   nextWindow.TotalPaidCapital.String(),
		})
	}
	return nextClaim, nil
}

// Current returns the OPEN window, if any.
func (s *Service) Current(ctx context.Context) (*Window, error) {
	w, err := s.store.OpenWindow(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no window is open")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load open window")
	}
	return w, nil
}

// Get returns one window.
func (s *Service) Get(ctx context.Context, windowID id.WindowID) (*Window, error) {
	return s.getWindow(ctx, windowID)
}

// Claims lists a window's claims.
func (s *Service) Claims(ctx context.Context, windowID id.WindowID) ([]*Claim, error) {
	claims, err := s.store.ListClaims(ctx, windowID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	return claims, nil
}

// Pending returns an account's queued tokens in a window.
func (s *Service) Pending(ctx context.Context, windowID id.WindowID, account id.Account) (*big.Int, error) {
	pending, err := s.store.GetPending(ctx, windowID, account)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read pending balance")
	}
	return pending, nil
}

func (s *Service) getWindow(ctx context.Context, windowID id.WindowID) (*Window, error) {
	w, err := s.store.GetWindow(ctx, windowID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown window %d", windowID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load window")
	}
	return w, nil
}

func (s *Service) getClaim(ctx context.Context, claimID id.ClaimID) (*Claim, error) {
	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown claim %d", claimID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
	}
	return c, nil
}

func (s *Service) putWindow(ctx context.Context, w *Window, expectedVersion uint64) error {
	err := s.store.PutWindow(ctx, w, expectedVersion)
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "window changed concurrently, retry")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store window")
	}
	w.Version = expectedVersion + 1
	return nil
}

func (s *Service) putClaim(ctx context.Context, c *Claim, expectedVersion uint64) error {
	err := s.store.PutClaim(ctx, c, expectedVersion)
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "claim changed concurrently, retry")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store claim")
	}
	c.Version = expectedVersion + 1
	return nil
}

func (s *Service) rollbackClaim(ctx context.Context, snapshot *Claim, currentVersion uint64) {
	if err := s.store.PutClaim(ctx, snapshot, currentVersion); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "claim rollback failed",
			"claim_id", snapshot.ID,
			"error", err.Error(),
		)
	}
}

func (s *Service) rollbackWindow(ctx context.Context, snapshot *Window, currentVersion uint64) {
	if err := s.store.PutWindow(ctx, snapshot, currentVersion); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "window rollback failed",
			"window_id", snapshot.ID,
			"error", err.Error(),
		)
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	_ = s.auditPublisher.Emit(ctx, event)
}
