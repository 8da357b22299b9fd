// Package handler exposes capacity reads and the governance setter.
package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fundgate/internal/capacity"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/fixedpoint"
	"fundgate/pkg/platform/httputil"
)

type Service interface {
	Check(ctx context.Context, jurisdiction id.Jurisdiction, requestedAmount *big.Int) (*capacity.Decision, error)
	Get(ctx context.Context, jurisdiction id.Jurisdiction) (*capacity.SovereignCapacityRecord, error)
	List(ctx context.Context) ([]*capacity.SovereignCapacityRecord, error)
	Upsert(ctx context.Context, rec *capacity.SovereignCapacityRecord) error
}

type Handler struct {
	capacity Service
	logger   *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{capacity: service, logger: logger}
}

func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/capacity", h.handleList)
	r.Get("/capacity/{jurisdiction}", h.handleGet)
	r.Get("/capacity/{jurisdiction}/check", h.handleCheck)
}

func (h *Handler) RegisterGovernance(r chi.Router) {
	r.Put("/capacity/{jurisdiction}", h.handleUpsert)
}

type recordPayload struct {
	Jurisdiction      string    `json:"jurisdiction"`
	UtilizationCapBps uint32    `json:"utilization_cap_bps"`
	HaircutBps        uint32    `json:"haircut_bps"`
	WeightBps         uint32    `json:"weight_bps"`
	Enabled           bool      `json:"enabled"`
	SoftCap           string    `json:"soft_cap"`
	HardCap           string    `json:"hard_cap"`
	Utilized          string    `json:"utilized,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

func toPayload(rec *capacity.SovereignCapacityRecord) recordPayload {
	return recordPayload{
		Jurisdiction:      rec.Jurisdiction.String(),
		UtilizationCapBps: rec.UtilizationCapBps,
		HaircutBps:        rec.HaircutBps,
		WeightBps:         rec.WeightBps,
		Enabled:           rec.Enabled,
		SoftCap:           rec.SoftCap.String(),
		HardCap:           rec.HardCap.String(),
		Utilized:          rec.Utilized.String(),
		UpdatedAt:         rec.UpdatedAt,
	}
}

func jurisdictionParam(r *http.Request) (id.Jurisdiction, error) {
	return id.ParseJurisdiction(chi.URLParam(r, "jurisdiction"))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.capacity.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payloads := make([]recordPayload, 0, len(recs))
	for _, rec := range recs {
		payloads = append(payloads, toPayload(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": payloads})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	jurisdiction, err := jurisdictionParam(r)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid jurisdiction"))
		return
	}
	rec, err := h.capacity.Get(r.Context(), jurisdiction)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPayload(rec))
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	jurisdiction, err := jurisdictionParam(r)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid jurisdiction"))
		return
	}
	amount, err := fixedpoint.ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid amount"))
		return
	}

	decision, err := h.capacity.Check(r.Context(), jurisdiction, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"allowed":       decision.Allowed,
		"effective_cap": decision.EffectiveCap.String(),
		"utilized":      decision.Utilized.String(),
	})
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jurisdiction, err := jurisdictionParam(r)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid jurisdiction"))
		return
	}
	req, err := httputil.Decode[recordPayload](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	soft, err := fixedpoint.ParseAmount(req.SoftCap)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid soft_cap"))
		return
	}
	hard, err := fixedpoint.ParseAmount(req.HardCap)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid hard_cap"))
		return
	}

	rec := &capacity.SovereignCapacityRecord{
		Jurisdiction:      jurisdiction,
		UtilizationCapBps: req.UtilizationCapBps,
		HaircutBps:        req.HaircutBps,
		WeightBps:         req.WeightBps,
		Enabled:           req.Enabled,
		SoftCap:           soft,
		HardCap:           hard,
	}
	if err := h.capacity.Upsert(ctx, rec); err != nil {
		h.logger.WarnContext(ctx, "capacity upsert rejected",
			"jurisdiction", jurisdiction,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}
