// Package handler exposes the issuance and redemption surface.
package handler

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fundgate/internal/intent"
	"fundgate/internal/issuance"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/platform/httputil"
)

type Service interface {
	Issue(ctx context.Context, req issuance.IssueRequest) (*issuance.IssueResult, error)
	CanIssue(ctx context.Context, recipient id.Account, capitalAmount *big.Int, jurisdiction id.Jurisdiction) (bool, string, error)
	RequestRedeem(ctx context.Context, account id.Account, tokensWad *big.Int) (*issuance.RedeemResult, error)
	State(ctx context.Context) (*issuance.State, error)
	Params() issuance.Params
	SetParams(ctx context.Context, params issuance.Params) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/issuance/state", h.handleState)
	r.Get("/issuance/allowed", h.handleCanIssue)
}

func (h *Handler) RegisterMember(r chi.Router) {
	r.Post("/issuance", h.handleIssue)
	r.Post("/redemptions", h.handleRedeem)
}

func (h *Handler) RegisterGovernance(r chi.Router) {
	r.Get("/issuance/params", h.handleGetParams)
	r.Put("/issuance/params", h.handlePutParams)
}

type intentPayload struct {
	Recipient     string    `json:"recipient"`
	CapitalAmount string    `json:"capital_amount"`
	Jurisdiction  string    `json:"jurisdiction"`
	MaxHaircutBps uint32    `json:"max_haircut_bps"`
	Signer        string    `json:"signer"`
	Nonce         uint64    `json:"nonce"`
	Expiry        time.Time `json:"expiry"`
	Signature     string    `json:"signature"`
}

func (p *intentPayload) toIntent() (*intent.MintIntent, error) {
	recipient, err := id.ParseAccount(p.Recipient)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid intent recipient")
	}
	amount, err := fixedpoint.ParseAmount(p.CapitalAmount)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid intent amount")
	}
	jurisdiction, err := id.ParseJurisdiction(p.Jurisdiction)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid intent jurisdiction")
	}
	signer, err := id.ParseSignerID(p.Signer)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid intent signer")
	}
	signature, err := hex.DecodeString(p.Signature)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "signature must be hex encoded")
	}
	return &intent.MintIntent{
		Recipient:     recipient,
		CapitalAmount: amount,
		Jurisdiction:  jurisdiction,
		MaxHaircutBps: p.MaxHaircutBps,
		Signer:        signer,
		Nonce:         p.Nonce,
		Expiry:        p.Expiry,
		Signature:     signature,
	}, nil
}

type issueRequest struct {
	Recipient     string         `json:"recipient"`
	CapitalAmount string         `json:"capital_amount"`
	Jurisdiction  string         `json:"jurisdiction"`
	Intent        *intentPayload `json:"intent,omitempty"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[issueRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	recipient, err := id.ParseAccount(req.Recipient)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid recipient"))
		return
	}
	amount, err := fixedpoint.ParseAmount(req.CapitalAmount)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid capital amount"))
		return
	}
	jurisdiction, err := id.ParseJurisdiction(req.Jurisdiction)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid jurisdiction"))
		return
	}

	issueReq := issuance.IssueRequest{
		Recipient:     recipient,
		CapitalAmount: amount,
		Jurisdiction:  jurisdiction,
	}
	if req.Intent != nil {
		in, err := req.Intent.toIntent()
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		issueReq.Intent = in
	}

	res, err := h.service.Issue(ctx, issueReq)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"tokens_minted": res.TokensMinted.String(),
		"nav_ray":       res.NavRay.String(),
	})
}

func (h *Handler) handleCanIssue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recipient, err := id.ParseAccount(q.Get("recipient"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid recipient"))
		return
	}
	amount, err := fixedpoint.ParseAmount(q.Get("amount"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid amount"))
		return
	}
	jurisdiction, err := id.ParseJurisdiction(q.Get("jurisdiction"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid jurisdiction"))
		return
	}

	allowed, reason, err := h.service.CanIssue(r.Context(), recipient, amount, jurisdiction)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload := map[string]any{"allowed": allowed}
	if reason != "" {
		payload["reason"] = reason
	}
	httputil.WriteJSON(w, http.StatusOK, payload)
}

type redeemRequest struct {
	Account string `json:"account"`
	Tokens  string `json:"tokens"`
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.Decode[redeemRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	account, err := id.ParseAccount(req.Account)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid account"))
		return
	}
	amount, err := fixedpoint.ParseAmount(req.Tokens)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid token amount"))
		return
	}

	res, err := h.service.RequestRedeem(r.Context(), account, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload := map[string]any{"instant": res.Instant}
	if res.Instant {
		payload["capital_paid"] = res.CapitalPaid.String()
	} else {
		payload["window_id"] = uint64(res.WindowID)
		payload["tokens_queued"] = res.TokensQueued.String()
	}
	httputil.WriteJSON(w, http.StatusAccepted, payload)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.State(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"locked":          state.Locked,
		"cap_tokens":      state.CapTokens.String(),
		"outstanding":     state.Outstanding.String(),
		"oracle_level":    state.OracleLevel,
		"emergency_level": state.EmergencyLevel,
		"liquidity_ok":    state.LiquidityOK,
	})
}

type paramsPayload struct {
	CapTokens       string `json:"cap_tokens"`
	RequireIntent   bool   `json:"require_intent"`
	HaltAtEmergency int    `json:"halt_at_emergency"`
	Locked          bool   `json:"locked"`
}

func (h *Handler) handleGetParams(w http.ResponseWriter, r *http.Request) {
	p := h.service.Params()
	httputil.WriteJSON(w, http.StatusOK, paramsPayload{
		CapTokens:       p.CapTokens.String(),
		RequireIntent:   p.RequireIntent,
		HaltAtEmergency: p.HaltAtEmergency,
		Locked:          p.Locked,
	})
}

func (h *Handler) handlePutParams(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.Decode[paramsPayload](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	capTokens, err := fixedpoint.ParseAmount(req.CapTokens)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid token cap"))
		return
	}
	params := issuance.Params{
		CapTokens:       capTokens,
		RequireIntent:   req.RequireIntent,
		HaltAtEmergency: req.HaltAtEmergency,
		Locked:          req.Locked,
	}
	if err := h.service.SetParams(r.Context(), params); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, paramsPayload{
		CapTokens:       params.CapTokens.String(),
		RequireIntent:   params.RequireIntent,
		HaltAtEmergency: params.HaltAtEmergency,
		Locked:          params.Locked,
	})
}
