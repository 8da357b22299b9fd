package handler_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"log/slog"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"fundgate/internal/oracle"
	"fundgate/internal/oracle/handler"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/testutil"
)

type stubService struct {
	quote    *oracle.Quote
	quoteErr error

	submitted *oracle.Update
	submitErr error

	params oracle.Params
}

func (s *stubService) Quote(context.Context) (*oracle.Quote, error) {
	return s.quote, s.quoteErr
}

func (s *stubService) SubmitUpdate(_ context.Context, update oracle.Update) error {
	s.submitted = &update
	return s.submitErr
}

func (s *stubService) EmergencyOverride(context.Context, *big.Int, id.SignerID, []byte, time.Time) error {
	return nil
}

func (s *stubService) Params() oracle.Params { return s.params }

func (s *stubService) SetParams(context.Context, oracle.Params) error { return nil }

type HandlerSuite struct {
	suite.Suite
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func (s *HandlerSuite) newRouter(svc *stubService, opts ...handler.Option) chi.Router {
	h := handler.New(svc, discardLogger(), opts...)
	r := chi.NewRouter()
	h.RegisterPublic(r)
	h.RegisterFeed(r)
	h.RegisterGovernance(r)
	return r
}

func freshQuote() *oracle.Quote {
	return &oracle.Quote{
		NavRay:   new(big.Int).Set(fixedpoint.RayOne),
		Level:    oracle.LevelNormal,
		Sequence: 7,
		AsOf:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *HandlerSuite) TestLatest() {
	s.Run("returns current quote", func() {
		t := s.T()
		router := s.newRouter(&stubService{quote: freshQuote()})

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/oracle/nav/latest"))

		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "nav_ray", fixedpoint.RayOne.String())
		testutil.AssertJSONContains(t, rr, "level", "NORMAL")
		testutil.AssertJSONContains(t, rr, "sequence", float64(7))
	})

	s.Run("maps unseeded oracle to 404", func() {
		t := s.T()
		svc := &stubService{quoteErr: dErrors.New(dErrors.CodeNotFound, "nav state not seeded")}
		router := s.newRouter(svc)

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/oracle/nav/latest"))

		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	s.Run("signs the body when a signer is configured", func() {
		t := s.T()
		pub, priv, err := ed25519.GenerateKey(nil)
		s.Require().NoError(err)
		router := s.newRouter(&stubService{quote: freshQuote()}, handler.WithResponseSigner(priv))

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/oracle/nav/latest"))

		testutil.AssertStatusOK(t, rr)
		s.Equal(hex.EncodeToString(pub), rr.Header().Get("X-Nav-Signer"))

		sig, err := hex.DecodeString(rr.Header().Get("X-Nav-Signature"))
		s.Require().NoError(err)
		s.True(ed25519.Verify(pub, rr.Body.Bytes(), sig))
	})
}

func (s *HandlerSuite) TestSubmitUpdate() {
	signer := "8f2b5c3d0a1e4f6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b"

	s.Run("decodes attestations", func() {
		t := s.T()
		svc := &stubService{}
		router := s.newRouter(svc)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/oracle/nav", map[string]any{
			"nav_ray":   fixedpoint.RayOne.String(),
			"sequence":  8,
			"timestamp": "2026-03-01T12:00:00Z",
			"attestations": []map[string]any{
				{"signer": signer, "signature": "deadbeef"},
			},
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusOK(t, rr)
		s.Require().NotNil(svc.submitted)
		s.Equal(uint64(8), svc.submitted.Sequence)
		s.Require().Len(svc.submitted.Attestations, 1)
		s.Equal(id.SignerID(signer), svc.submitted.Attestations[0].Signer)
	})

	s.Run("rejects non-hex signature", func() {
		t := s.T()
		router := s.newRouter(&stubService{})

		req := testutil.NewJSONRequest(t, http.MethodPost, "/oracle/nav", map[string]any{
			"nav_ray":  fixedpoint.RayOne.String(),
			"sequence": 8,
			"attestations": []map[string]any{
				{"signer": signer, "signature": "zz"},
			},
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("maps quorum failure to 422", func() {
		t := s.T()
		svc := &stubService{submitErr: dErrors.New(dErrors.CodeQuorumNotMet, "1 of 2 attestations verified")}
		router := s.newRouter(svc)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/oracle/nav", map[string]any{
			"nav_ray":  fixedpoint.RayOne.String(),
			"sequence": 8,
		})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "quorum_not_met")
	})
}

func (s *HandlerSuite) TestParamsRoundTrip() {
	t := s.T()
	svc := &stubService{params: oracle.Params{
		StaleAfter:     time.Hour,
		DegradedAfter:  6 * time.Hour,
		EmergencyAfter: 24 * time.Hour,
		Quorum:         2,
	}}
	router := s.newRouter(svc)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/oracle/params"))

	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "stale_after_seconds", float64(3600))
	testutil.AssertJSONContains(t, rr, "quorum", float64(2))
}
