// Package issuance orchestrates primary-market flows: it gates issuance on
// membership, emergency posture, oracle health, the global supply cap and
// sovereign capacity, then drives the external ledger; redemptions route
// to the instant buffer when small and healthy, otherwise into the current
// settlement window. Tokens are surrendered (burned) when a redemption is
// accepted, not when it settles.
package issuance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fundgate/internal/capacity"
	"fundgate/internal/intent"
	"fundgate/internal/issuance/metrics"
	"fundgate/internal/oracle"
	"fundgate/internal/ports"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/platform/audit"
	"fundgate/pkg/requestcontext"
)

// Oracle supplies the NAV quote and the live degradation parameters.
type Oracle interface {
	Quote(ctx context.Context) (*oracle.Quote, error)
	Params() oracle.Params
}

// Capacity is the sovereign capacity controller.
type Capacity interface {
	Check(ctx context.Context, jurisdiction id.Jurisdiction, requestedAmount *big.Int) (*capacity.Decision, error)
	Reserve(ctx context.Context, jurisdiction id.Jurisdiction, requestedAmount *big.Int) error
	Release(ctx context.Context, jurisdiction id.Jurisdiction, amount *big.Int) error
}

// IntentVerifier checks signed mint intents. Verify never consumes the
// nonce; ConsumeNonce is called only after the mint succeeded, so a failed
// issuance leaves the intent replayable.
type IntentVerifier interface {
	Verify(ctx context.Context, in *intent.MintIntent) error
	ConsumeNonce(ctx context.Context, signer id.SignerID, nonce uint64) error
}

// RedemptionQueue enqueues surrendered tokens into the open window.
type RedemptionQueue interface {
	Enqueue(ctx context.Context, account id.Account, tokensWad *big.Int) (id.WindowID, error)
}

// Allowance meters the per-account daily instant-lane budget.
type Allowance interface {
	Consume(ctx context.Context, account id.Account, capital *big.Int) error
	Refund(ctx context.Context, account id.Account, capital *big.Int) error
	Remaining(ctx context.Context, account id.Account) (*big.Int, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	oracle    Oracle
	capacity  Capacity
	intents   IntentVerifier
	windows   RedemptionQueue
	allowance Allowance

	ledger    ports.Ledger
	custodial ports.CustodialAccount
	buffer    ports.InstantBuffer
	registry  ports.MembershipRegistry
	elig      ports.EligibilityConfig

	mu     sync.RWMutex
	params Params

	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
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

// WithIntentVerifier enables the signed-intent gate. Without it, intents
// on requests are rejected rather than silently ignored.
func WithIntentVerifier(v IntentVerifier) Option {
	return func(s *Service) { s.intents = v }
}

func WithAllowance(a Allowance) Option {
	return func(s *Service) { s.allowance = a }
}

type Deps struct {
	Oracle    Oracle
	Capacity  Capacity
	Windows   RedemptionQueue
	Ledger    ports.Ledger
	Custodial ports.CustodialAccount
	Buffer    ports.InstantBuffer
	Registry  ports.MembershipRegistry
	Elig      ports.EligibilityConfig
}

func New(deps Deps, params Params, opts ...Option) (*Service, error) {
	if deps.Oracle == nil || deps.Capacity == nil || deps.Windows == nil {
		return nil, fmt.Errorf("oracle, capacity and window services are required")
	}
	if deps.Ledger == nil || deps.Custodial == nil || deps.Buffer == nil {
		return nil, fmt.Errorf("ledger, custodial account and instant buffer are required")
	}
	if deps.Registry == nil || deps.Elig == nil {
		return nil, fmt.Errorf("membership registry and eligibility config are required")
	}
	if params.CapTokens != nil && params.CapTokens.Sign() < 0 {
		return nil, fmt.Errorf("token cap must be non-negative")
	}
	if params.HaltAtEmergency < 1 {
		return nil, fmt.Errorf("emergency halt level must be at least 1")
	}
	svc := &Service{
		oracle:    deps.Oracle,
		capacity:  deps.Capacity,
		windows:   deps.Windows,
		ledger:    deps.Ledger,
		custodial: deps.Custodial,
		buffer:    deps.Buffer,
		registry:  deps.Registry,
		elig:      deps.Elig,
		params:    normalizeParams(params),
		tracer:    otel.Tracer("fundgate/internal/issuance"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func normalizeParams(p Params) Params {
	if p.CapTokens == nil {
		p.CapTokens = new(big.Int)
	} else {
		p.CapTokens = new(big.Int).Set(p.CapTokens)
	}
	return p
}

// Params returns a snapshot of the current gate parameters.
func (s *Service) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.params
	p.CapTokens = new(big.Int).Set(s.params.CapTokens)
	return p
}

// SetParams replaces the gate parameters. Governance only.
func (s *Service) SetParams(ctx context.Context, params Params) error {
	if params.CapTokens != nil && params.CapTokens.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "token cap must be non-negative")
	}
	if params.HaltAtEmergency < 1 {
		return dErrors.New(dErrors.CodeInvalidInput, "emergency halt level must be at least 1")
	}
	s.mu.Lock()
	s.params = normalizeParams(params)
	s.mu.Unlock()

	s.emitAudit(ctx, audit.Event{
		Action: string(audit.EventParamsUpdated),
		Actor:  requestcontext.Actor(ctx),
		Reason: "issuance",
	})
	return nil
}

// Issue runs the full gate sequence and mints tokens for capital received.
// External calls happen only after every gate passed; a failure at any
// external step unwinds the previous ones.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	ctx, span := s.tracer.Start(ctx, "issuance.Issue")
	defer span.End()
	span.SetAttributes(
		attribute.String("jurisdiction", string(req.Jurisdiction)),
		attribute.String("recipient", string(req.Recipient)),
	)

	quote, tokens, err := s.admit(ctx, req.Recipient, req.CapitalAmount, req.Jurisdiction)
	if err != nil {
		return nil, s.reject(ctx, req, err)
	}

	params := s.Params()
	if params.RequireIntent && req.Intent == nil {
		return nil, s.reject(ctx, req, dErrors.New(dErrors.CodeInvalidInput, "a signed mint intent is required"))
	}
	if req.Intent != nil {
		if err := s.checkIntent(ctx, req, quote); err != nil {
			return nil, s.reject(ctx, req, err)
		}
	}

	if err := s.capacity.Reserve(ctx, req.Jurisdiction, req.CapitalAmount); err != nil {
		return nil, s.reject(ctx, req, err)
	}

	if err := s.custodial.Fund(ctx, req.Recipient, req.CapitalAmount); err != nil {
		s.unwindReserve(ctx, req.Jurisdiction, req.CapitalAmount)
		return nil, s.reject(ctx, req, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "capital transfer failed"))
	}

	if err := s.ledger.Mint(ctx, req.Recipient, tokens); err != nil {
		s.unwindFund(ctx, req.Recipient, req.CapitalAmount)
		s.unwindReserve(ctx, req.Jurisdiction, req.CapitalAmount)
		return nil, s.reject(ctx, req, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "ledger mint failed"))
	}

	if req.Intent != nil {
		if err := s.intents.ConsumeNonce(ctx, req.Intent.Signer, req.Intent.Nonce); err != nil {
			s.unwindMint(ctx, req.Recipient, tokens)
			s.unwindFund(ctx, req.Recipient, req.CapitalAmount)
			s.unwindReserve(ctx, req.Jurisdiction, req.CapitalAmount)
			return nil, s.reject(ctx, req, err)
		}
	}

	if s.metrics != nil {
		s.metrics.Minted(tokens)
		if supply, err := s.ledger.TotalSupply(ctx); err == nil {
			s.metrics.SetOutstanding(supply)
		}
	}
	s.emitAudit(ctx, audit.Event{
		Action:       string(audit.EventIssuanceMinted),
		Account:      req.Recipient,
		Jurisdiction: req.Jurisdiction,
		Amount:       tokens.String(),
	})
	return &IssueResult{TokensMinted: tokens, NavRay: quote.NavRay}, nil
}

// CanIssue answers the issuance predicate without reserving anything. The
// returned reason is empty when issuance would be admitted.
func (s *Service) CanIssue(ctx context.Context, recipient id.Account, capitalAmount *big.Int, jurisdiction id.Jurisdiction) (bool, string, error) {
	_, _, err := s.admit(ctx, recipient, capitalAmount, jurisdiction)
	if err != nil {
		if code := dErrors.GetCode(err); code != dErrors.CodeInternal {
			return false, string(code), nil
		}
		return false, "", err
	}

	dec, err := s.capacity.Check(ctx, jurisdiction, capitalAmount)
	if err != nil {
		if code := dErrors.GetCode(err); code != dErrors.CodeInternal {
			return false, string(code), nil
		}
		return false, "", err
	}
	if !dec.Allowed {
		return false, string(dErrors.CodeCapacityExceeded), nil
	}
	return true, "", nil
}

// admit runs the read-only issuance gates and returns the quote and token
// amount a passing request would mint.
func (s *Service) admit(ctx context.Context, recipient id.Account, capitalAmount *big.Int, jurisdiction id.Jurisdiction) (*oracle.Quote, *big.Int, error) {
	if recipient == "" {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "recipient is required")
	}
	if capitalAmount == nil || capitalAmount.Sign() <= 0 {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "capital amount must be positive")
	}
	if jurisdiction == "" {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "jurisdiction is required")
	}

	params := s.Params()
	if params.Locked {
		return nil, nil, dErrors.New(dErrors.CodeIssuanceLocked, "issuance is locked")
	}

	member, err := s.registry.IsMember(ctx, recipient)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "membership check failed")
	}
	if !member {
		return nil, nil, dErrors.New(dErrors.CodeForbidden, "account is not a fund member")
	}

	elig, err := s.elig.Current(ctx)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "eligibility lookup failed")
	}
	if elig.EmergencyLevel >= params.HaltAtEmergency {
		return nil, nil, dErrors.Newf(dErrors.CodeIssuanceLocked,
			"issuance halted at emergency level %d", elig.EmergencyLevel)
	}

	quote, err := s.oracle.Quote(ctx)
	if err != nil {
		return nil, nil, err
	}
	if quote.Level != oracle.LevelNormal {
		return nil, nil, dErrors.Newf(dErrors.CodeOracleDegraded,
			"issuance requires a healthy oracle, level is %s", quote.Level)
	}

	tokens := fixedpoint.CapitalToTokens(capitalAmount, quote.NavRay)
	if tokens.Sign() <= 0 {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "capital amount rounds to zero tokens")
	}

	if params.CapTokens.Sign() > 0 {
		supply, err := s.ledger.TotalSupply(ctx)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "supply lookup failed")
		}
		if new(big.Int).Add(supply, tokens).Cmp(params.CapTokens) > 0 {
			return nil, nil, dErrors.New(dErrors.CodeCapacityExceeded, "global token cap reached")
		}
	}
	return quote, tokens, nil
}

// checkIntent binds a signed intent to the live request before signature
// verification.
func (s *Service) checkIntent(ctx context.Context, req IssueRequest, quote *oracle.Quote) error {
	if s.intents == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "signed intents are not accepted")
	}
	in := req.Intent
	if in.Recipient != req.Recipient {
		return dErrors.New(dErrors.CodeInvalidInput, "intent recipient does not match request")
	}
	if in.CapitalAmount == nil || in.CapitalAmount.Cmp(req.CapitalAmount) != 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "intent amount does not match request")
	}
	if in.Jurisdiction != req.Jurisdiction {
		return dErrors.New(dErrors.CodeInvalidInput, "intent jurisdiction does not match request")
	}
	if haircut := s.oracle.Params().HaircutFor(quote.Level); haircut > in.MaxHaircutBps {
		return dErrors.Newf(dErrors.CodeForbidden,
			"oracle haircut %d bps exceeds intent tolerance %d bps", haircut, in.MaxHaircutBps)
	}
	return s.intents.Verify(ctx, in)
}

// RequestRedeem surrenders tokens for capital. Small redemptions within
// the buffer, the daily allowance and the emergency price band pay out
// instantly; everything else lands in the open window. The burn happens
// here either way.
func (s *Service) RequestRedeem(ctx context.Context, account id.Account, tokensWad *big.Int) (*RedeemResult, error) {
	ctx, span := s.tracer.Start(ctx, "issuance.RequestRedeem")
	defer span.End()
	span.SetAttributes(attribute.String("account", string(account)))

	if account == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "account is required")
	}
	if tokensWad == nil || tokensWad.Sign() <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token amount must be positive")
	}

	member, err := s.registry.IsMember(ctx, account)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "membership check failed")
	}
	if !member {
		return nil, dErrors.New(dErrors.CodeForbidden, "account is not a fund member")
	}

	balance, err := s.ledger.BalanceOf(ctx, account)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "balance lookup failed")
	}
	if balance.Cmp(tokensWad) < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token balance is too low")
	}

	quote, err := s.oracle.Quote(ctx)
	if err != nil {
		return nil, err
	}
	capitalNeed := fixedpoint.TokensToCapital(tokensWad, quote.NavRay)
	if capitalNeed.Sign() <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token amount rounds to zero capital")
	}

	instant, err := s.admitInstant(ctx, account, capitalNeed, quote)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Burn(ctx, account, tokensWad); err != nil {
		if instant {
			s.refundAllowance(ctx, account, capitalNeed)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "ledger burn failed")
	}

	if instant {
		if err := s.buffer.PayInstant(ctx, account, capitalNeed); err != nil {
			s.refundAllowance(ctx, account, capitalNeed)
			s.unwindBurn(ctx, account, tokensWad)
			return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "instant payment failed")
		}
		if s.metrics != nil {
			s.metrics.InstantRedeemed()
		}
		s.emitAudit(ctx, audit.Event{
			Action:  string(audit.EventInstantRedeemed),
			Account: account,
			Amount:  capitalNeed.String(),
		})
		return &RedeemResult{Instant: true, CapitalPaid: capitalNeed}, nil
	}

	windowID, err := s.windows.Enqueue(ctx, account, tokensWad)
	if err != nil {
		s.unwindBurn(ctx, account, tokensWad)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.QueuedRedeemed()
	}
	return &RedeemResult{WindowID: windowID, TokensQueued: tokensWad}, nil
}

// admitInstant decides the lane. A true result means the daily allowance
// was already consumed; any later failure must refund it.
func (s *Service) admitInstant(ctx context.Context, account id.Account, capitalNeed *big.Int, quote *oracle.Quote) (bool, error) {
	if s.allowance == nil {
		return false, nil
	}

	elig, err := s.elig.Current(ctx)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "eligibility lookup failed")
	}
	if !fixedpoint.WithinBps(quote.NavRay, fixedpoint.RayOne, instantToleranceBps(elig.EmergencyLevel)) {
		return false, nil
	}

	available, err := s.buffer.Available(ctx)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "buffer lookup failed")
	}
	if available.Cmp(capitalNeed) < 0 {
		return false, nil
	}

	if err := s.allowance.Consume(ctx, account, capitalNeed); err != nil {
		if dErrors.Is(err, dErrors.CodeCapacityExceeded) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// instantToleranceBps is the symmetric NAV deviation from par the instant
// lane tolerates at an emergency level. Higher levels tighten the band.
func instantToleranceBps(emergencyLevel int) uint32 {
	switch {
	case emergencyLevel <= 0:
		return 200
	case emergencyLevel == 1:
		return 100
	default:
		return 25
	}
}

// State assembles the read model for the status endpoint.
func (s *Service) State(ctx context.Context) (*State, error) {
	params := s.Params()

	supply, err := s.ledger.TotalSupply(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "supply lookup failed")
	}
	quote, err := s.oracle.Quote(ctx)
	if err != nil {
		return nil, err
	}
	elig, err := s.elig.Current(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "eligibility lookup failed")
	}
	liquidity, err := s.custodial.LiquidityStatus(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalCallFailed, "liquidity lookup failed")
	}

	return &State{
		Locked:         params.Locked,
		CapTokens:      params.CapTokens,
		Outstanding:    supply,
		OracleLevel:    quote.Level.String(),
		EmergencyLevel: elig.EmergencyLevel,
		LiquidityOK:    liquidity.Healthy,
	}, nil
}

func (s *Service) reject(ctx context.Context, req IssueRequest, err error) error {
	code := dErrors.GetCode(err)
	if s.metrics != nil {
		s.metrics.Rejected(string(code))
	}
	s.emitAudit(ctx, audit.Event{
		Action:       string(audit.EventIssuanceRejected),
		Account:      req.Recipient,
		Jurisdiction: req.Jurisdiction,
		Reason:       string(code),
	})
	return err
}

func (s *Service) unwindReserve(ctx context.Context, jurisdiction id.Jurisdiction, amount *big.Int) {
	if err := s.capacity.Release(ctx, jurisdiction, amount); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to release capacity after unwound issuance",
			"jurisdiction", jurisdiction, "error", err)
	}
}

func (s *Service) unwindFund(ctx context.Context, account id.Account, amount *big.Int) {
	if err := s.custodial.Pay(ctx, account, amount); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to return capital after unwound issuance",
			"account", account, "error", err)
	}
}

func (s *Service) unwindMint(ctx context.Context, account id.Account, tokens *big.Int) {
	if err := s.ledger.Burn(ctx, account, tokens); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to burn tokens after unwound issuance",
			"account", account, "error", err)
	}
}

func (s *Service) unwindBurn(ctx context.Context, account id.Account, tokens *big.Int) {
	if err := s.ledger.Mint(ctx, account, tokens); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to restore tokens after unwound redemption",
			"account", account, "error", err)
	}
}

func (s *Service) refundAllowance(ctx context.Context, account id.Account, capital *big.Int) {
	if err := s.allowance.Refund(ctx, account, capital); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to refund instant allowance",
			"account", account, "error", err)
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
