// Package handler exposes NAV oracle endpoints: public reads, quorum update
// submission, and the governance-gated emergency override.
package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fundgate/internal/oracle"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/platform/httputil"
)

type Service interface {
	Quote(ctx context.Context) (*oracle.Quote, error)
	SubmitUpdate(ctx context.Context, update oracle.Update) error
	EmergencyOverride(ctx context.Context, navRay *big.Int, signer id.SignerID, signature []byte, signedAt time.Time) error
	Params() oracle.Params
	SetParams(ctx context.Context, params oracle.Params) error
}

type Handler struct {
	oracle     Service
	logger     *slog.Logger
	signingKey ed25519.PrivateKey
}

type Option func(*Handler)

// WithResponseSigner signs NAV read responses with the service key so
// downstream consumers can verify quotes independently of transport.
func WithResponseSigner(key ed25519.PrivateKey) Option {
	return func(h *Handler) { h.signingKey = key }
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{oracle: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterPublic mounts unauthenticated read endpoints.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/oracle/nav/latest", h.handleLatest)
}

// RegisterFeed mounts the pricing feed write path. Authentication is the
// quorum signature set itself, so no bearer token is required.
func (h *Handler) RegisterFeed(r chi.Router) {
	r.Post("/oracle/nav", h.handleSubmitUpdate)
}

// RegisterGovernance mounts operator endpoints; the router wraps these in
// role middleware.
func (h *Handler) RegisterGovernance(r chi.Router) {
	r.Post("/oracle/emergency", h.handleEmergencyOverride)
	r.Get("/oracle/params", h.handleGetParams)
	r.Put("/oracle/params", h.handleSetParams)
}

type quoteResponse struct {
	NavRay   string    `json:"nav_ray"`
	Level    string    `json:"level"`
	Sequence uint64    `json:"sequence"`
	AsOf     time.Time `json:"as_of"`
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	quote, err := h.oracle.Quote(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := quoteResponse{
		NavRay:   quote.NavRay.String(),
		Level:    quote.Level.String(),
		Sequence: quote.Sequence,
		AsOf:     quote.AsOf,
	}
	if h.signingKey == nil {
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}

	// The signature covers the exact bytes written, so consumers verify
	// the body they received without re-canonicalizing.
	body, err := json.Marshal(resp)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Nav-Signer", hex.EncodeToString(h.signingKey.Public().(ed25519.PublicKey)))
	w.Header().Set("X-Nav-Signature", hex.EncodeToString(ed25519.Sign(h.signingKey, body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type attestationRequest struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

type submitUpdateRequest struct {
	NavRay       string               `json:"nav_ray"`
	Sequence     uint64               `json:"sequence"`
	Timestamp    time.Time            `json:"timestamp"`
	Attestations []attestationRequest `json:"attestations"`
}

func (h *Handler) handleSubmitUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[submitUpdateRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	nav, err := fixedpoint.ParseAmount(req.NavRay)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid nav_ray"))
		return
	}

	update := oracle.Update{
		NavRay:    nav,
		Sequence:  req.Sequence,
		Timestamp: req.Timestamp,
	}
	for _, att := range req.Attestations {
		signer, err := id.ParseSignerID(att.Signer)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid signer id"))
			return
		}
		sig, err := hex.DecodeString(att.Signature)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "signature must be hex"))
			return
		}
		update.Attestations = append(update.Attestations, oracle.Attestation{Signer: signer, Signature: sig})
	}

	if err := h.oracle.SubmitUpdate(ctx, update); err != nil {
		h.logger.WarnContext(ctx, "nav update rejected",
			"sequence", req.Sequence,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sequence": req.Sequence})
}

type emergencyOverrideRequest struct {
	NavRay    string    `json:"nav_ray"`
	Signer    string    `json:"signer"`
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signed_at"`
}

func (h *Handler) handleEmergencyOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[emergencyOverrideRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	nav, err := fixedpoint.ParseAmount(req.NavRay)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid nav_ray"))
		return
	}
	signer, err := id.ParseSignerID(req.Signer)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid signer id"))
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "signature must be hex"))
		return
	}

	if err := h.oracle.EmergencyOverride(ctx, nav, signer, sig, req.SignedAt); err != nil {
		h.logger.WarnContext(ctx, "emergency override rejected",
			"signer", req.Signer,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

type paramsPayload struct {
	StaleAfterSeconds     int64  `json:"stale_after_seconds"`
	DegradedAfterSeconds  int64  `json:"degraded_after_seconds"`
	EmergencyAfterSeconds int64  `json:"emergency_after_seconds"`
	StaleHaircutBps       uint32 `json:"stale_haircut_bps"`
	DegradedHaircutBps    uint32 `json:"degraded_haircut_bps"`
	EmergencyHaircutBps   uint32 `json:"emergency_haircut_bps"`
	MaxGrowthBpsPerDay    uint32 `json:"max_growth_bps_per_day"`
	BandBps               uint32 `json:"band_bps"`
	MaxJumpBps            uint32 `json:"max_jump_bps"`
	Quorum                int    `json:"quorum"`
}

func (h *Handler) handleGetParams(w http.ResponseWriter, r *http.Request) {
	p := h.oracle.Params()
	httputil.WriteJSON(w, http.StatusOK, paramsPayload{
		StaleAfterSeconds:     int64(p.StaleAfter / time.Second),
		DegradedAfterSeconds:  int64(p.DegradedAfter / time.Second),
		EmergencyAfterSeconds: int64(p.EmergencyAfter / time.Second),
		StaleHaircutBps:       p.StaleHaircutBps,
		DegradedHaircutBps:    p.DegradedHaircutBps,
		EmergencyHaircutBps:   p.EmergencyHaircutBps,
		MaxGrowthBpsPerDay:    p.MaxGrowthBpsPerDay,
		BandBps:               p.BandBps,
		MaxJumpBps:            p.MaxJumpBps,
		Quorum:                p.Quorum,
	})
}

func (h *Handler) handleSetParams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[paramsPayload](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	current := h.oracle.Params()
	next := oracle.Params{
		StaleAfter:          time.Duration(req.StaleAfterSeconds) * time.Second,
		DegradedAfter:       time.Duration(req.DegradedAfterSeconds) * time.Second,
		EmergencyAfter:      time.Duration(req.EmergencyAfterSeconds) * time.Second,
		StaleHaircutBps:     req.StaleHaircutBps,
		DegradedHaircutBps:  req.DegradedHaircutBps,
		EmergencyHaircutBps: req.EmergencyHaircutBps,
		MaxGrowthBpsPerDay:  req.MaxGrowthBpsPerDay,
		BandBps:             req.BandBps,
		MaxJumpBps:          req.MaxJumpBps,
		Quorum:              req.Quorum,
		Domain:              current.Domain,
		ChainID:             current.ChainID,
	}
	if err := h.oracle.SetParams(ctx, next); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}
