package handler_test

import (
	"context"
	"math/big"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"fundgate/internal/issuance"
	"fundgate/internal/issuance/handler"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/testutil"
)

// stubService scripts the responses the handler translates to HTTP.
type stubService struct {
	issueResult *issuance.IssueResult
	issueErr    error
	issueReq    *issuance.IssueRequest

	redeemResult *issuance.RedeemResult
	redeemErr    error

	canAllowed bool
	canReason  string

	state  *issuance.State
	params issuance.Params

	setParams *issuance.Params
}

func (s *stubService) Issue(_ context.Context, req issuance.IssueRequest) (*issuance.IssueResult, error) {
	s.issueReq = &req
	return s.issueResult, s.issueErr
}

func (s *stubService) CanIssue(context.Context, id.Account, *big.Int, id.Jurisdiction) (bool, string, error) {
	return s.canAllowed, s.canReason, nil
}

func (s *stubService) RequestRedeem(context.Context, id.Account, *big.Int) (*issuance.RedeemResult, error) {
	return s.redeemResult, s.redeemErr
}

func (s *stubService) State(context.Context) (*issuance.State, error) {
	return s.state, nil
}

func (s *stubService) Params() issuance.Params { return s.params }

func (s *stubService) SetParams(_ context.Context, params issuance.Params) error {
	s.setParams = &params
	return nil
}

type HandlerSuite struct {
	suite.Suite
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) newRouter(svc *stubService) chi.Router {
	h := handler.New(svc, nil)
	r := chi.NewRouter()
	h.RegisterPublic(r)
	h.RegisterMember(r)
	h.RegisterGovernance(r)
	return r
}

func (s *HandlerSuite) TestIssue() {
	s.Run("mints and returns 201", func() {
		t := s.T()
		svc := &stubService{issueResult: &issuance.IssueResult{
			TokensMinted: new(big.Int).Mul(big.NewInt(1_000), fixedpoint.WadOne),
			NavRay:       new(big.Int).Set(fixedpoint.RayOne),
		}}
		router := s.newRouter(svc)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/issuance", map[string]any{
			"recipient":      "alice",
			"capital_amount": "1000000000",
			"jurisdiction":   "CH",
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatus(t, rr, http.StatusCreated)
		testutil.AssertJSONContains(t, rr, "tokens_minted", svc.issueResult.TokensMinted.String())
		testutil.AssertJSONHasKey(t, rr, "nav_ray")

		s.Require().NotNil(svc.issueReq)
		s.Equal(id.Account("alice"), svc.issueReq.Recipient)
		s.Equal(id.Jurisdiction("CH"), svc.issueReq.Jurisdiction)
		s.Zero(big.NewInt(1_000_000_000).Cmp(svc.issueReq.CapitalAmount))
		s.Nil(svc.issueReq.Intent)
	})

	s.Run("rejects malformed body", func() {
		t := s.T()
		router := s.newRouter(&stubService{})

		req := testutil.NewRequestWithBody(t, http.MethodPost, "/issuance", "{not json")
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("rejects bad amount", func() {
		t := s.T()
		router := s.newRouter(&stubService{})

		req := testutil.NewJSONRequest(t, http.MethodPost, "/issuance", map[string]any{
			"recipient":      "alice",
			"capital_amount": "12.5",
			"jurisdiction":   "CH",
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("rejects unsignable intent signature", func() {
		t := s.T()
		router := s.newRouter(&stubService{})

		req := testutil.NewJSONRequest(t, http.MethodPost, "/issuance", map[string]any{
			"recipient":      "alice",
			"capital_amount": "1000000000",
			"jurisdiction":   "CH",
			"intent": map[string]any{
				"recipient":      "alice",
				"capital_amount": "1000000000",
				"jurisdiction":   "CH",
				"signer":         "8f2b5c3d0a1e4f6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b",
				"nonce":          1,
				"signature":      "not-hex",
			},
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("maps domain rejection to 422", func() {
		t := s.T()
		svc := &stubService{issueErr: dErrors.New(dErrors.CodeCapacityExceeded, "jurisdiction budget exhausted")}
		router := s.newRouter(svc)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/issuance", map[string]any{
			"recipient":      "alice",
			"capital_amount": "1000000000",
			"jurisdiction":   "CH",
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "capacity_exceeded")
	})
}

func (s *HandlerSuite) TestCanIssue() {
	s.Run("allowed", func() {
		t := s.T()
		router := s.newRouter(&stubService{canAllowed: true})

		req := testutil.NewRequest(t, http.MethodGet, "/issuance/allowed?recipient=alice&amount=500&jurisdiction=CH")
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "allowed", true)
	})

	s.Run("blocked with reason", func() {
		t := s.T()
		router := s.newRouter(&stubService{canReason: "oracle_degraded"})

		req := testutil.NewRequest(t, http.MethodGet, "/issuance/allowed?recipient=alice&amount=500&jurisdiction=CH")
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "allowed", false)
		testutil.AssertJSONContains(t, rr, "reason", "oracle_degraded")
	})

	s.Run("rejects missing query params", func() {
		t := s.T()
		router := s.newRouter(&stubService{})

		req := testutil.NewRequest(t, http.MethodGet, "/issuance/allowed?amount=500")
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})
}

func (s *HandlerSuite) TestRedeem() {
	s.Run("instant redemption returns capital paid", func() {
		t := s.T()
		svc := &stubService{redeemResult: &issuance.RedeemResult{
			Instant:     true,
			CapitalPaid: big.NewInt(100_000_000),
		}}
		router := s.newRouter(svc)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/redemptions", map[string]any{
			"account": "alice",
			"tokens":  "100000000000000000000",
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatus(t, rr, http.StatusAccepted)
		testutil.AssertJSONContains(t, rr, "instant", true)
		testutil.AssertJSONContains(t, rr, "capital_paid", "100000000")
	})

	s.Run("queued redemption returns window", func() {
		t := s.T()
		svc := &stubService{redeemResult: &issuance.RedeemResult{
			WindowID:     3,
			TokensQueued: new(big.Int).Mul(big.NewInt(50), fixedpoint.WadOne),
		}}
		router := s.newRouter(svc)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/redemptions", map[string]any{
			"account": "alice",
			"tokens":  "50000000000000000000",
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatus(t, rr, http.StatusAccepted)
		testutil.AssertJSONContains(t, rr, "instant", false)
		testutil.AssertJSONContains(t, rr, "window_id", float64(3))
	})

	s.Run("maps closed window to 409", func() {
		t := s.T()
		svc := &stubService{redeemErr: dErrors.New(dErrors.CodeWrongState, "no open window")}
		router := s.newRouter(svc)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/redemptions", map[string]any{
			"account": "alice",
			"tokens":  "50",
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "wrong_state")
	})
}

func (s *HandlerSuite) TestState() {
	t := s.T()
	svc := &stubService{state: &issuance.State{
		CapTokens:      new(big.Int).Mul(big.NewInt(1_000_000), fixedpoint.WadOne),
		Outstanding:    new(big.Int).Mul(big.NewInt(250), fixedpoint.WadOne),
		OracleLevel:    "NORMAL",
		EmergencyLevel: 1,
		LiquidityOK:    true,
	}}
	router := s.newRouter(svc)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/issuance/state"))

	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "locked", false)
	testutil.AssertJSONContains(t, rr, "oracle_level", "NORMAL")
	testutil.AssertJSONContains(t, rr, "emergency_level", float64(1))
	testutil.AssertJSONContains(t, rr, "liquidity_ok", true)
}

func (s *HandlerSuite) TestParams() {
	s.Run("get", func() {
		t := s.T()
		svc := &stubService{params: issuance.Params{
			CapTokens:       new(big.Int).Mul(big.NewInt(1_000_000), fixedpoint.WadOne),
			RequireIntent:   true,
			HaltAtEmergency: 2,
		}}
		router := s.newRouter(svc)

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/issuance/params"))

		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "require_intent", true)
		testutil.AssertJSONContains(t, rr, "halt_at_emergency", float64(2))
	})

	s.Run("put", func() {
		t := s.T()
		svc := &stubService{}
		router := s.newRouter(svc)

		req := testutil.NewJSONRequest(t, http.MethodPut, "/issuance/params", map[string]any{
			"cap_tokens":        "0",
			"require_intent":    false,
			"halt_at_emergency": 3,
			"locked":            true,
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusOK(t, rr)
		s.Require().NotNil(svc.setParams)
		s.True(svc.setParams.Locked)
		s.Equal(3, svc.setParams.HaltAtEmergency)
		s.Zero(svc.setParams.CapTokens.Sign())
	})

	s.Run("put rejects bad cap", func() {
		t := s.T()
		router := s.newRouter(&stubService{})

		req := testutil.NewJSONRequest(t, http.MethodPut, "/issuance/params", map[string]any{
			"cap_tokens": "-5",
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})
}
