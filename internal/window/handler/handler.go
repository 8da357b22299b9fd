// Package handler exposes the redemption window operator surface.
package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fundgate/internal/window"
	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/httputil"
)

type Service interface {
	Open(ctx context.Context, closeTime time.Time) (*window.Window, error)
	Close(ctx context.Context, windowID id.WindowID) (*window.Window, error)
	Strike(ctx context.Context, windowID id.WindowID) (*window.Window, error)
	MintClaims(ctx context.Context, windowID id.WindowID) (minted, remaining int, err error)
	SettleClaim(ctx context.Context, windowID id.WindowID, claimID id.ClaimID) (*window.Claim, error)
	Current(ctx context.Context) (*window.Window, error)
	Get(ctx context.Context, windowID id.WindowID) (*window.Window, error)
	Claims(ctx context.Context, windowID id.WindowID) ([]*window.Claim, error)
	Pending(ctx context.Context, windowID id.WindowID, account id.Account) (*big.Int, error)
}

type Handler struct {
	windows Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{windows: service, logger: logger}
}

func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/windows/current", h.handleCurrent)
	r.Get("/windows/{windowID}", h.handleGet)
	r.Get("/windows/{windowID}/claims", h.handleClaims)
}

func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/windows/open", h.handleOpen)
	r.Post("/windows/{windowID}/close", h.handleClose)
	r.Post("/windows/{windowID}/strike", h.handleStrike)
	r.Post("/windows/{windowID}/claims/mint", h.handleMintClaims)
	r.Post("/windows/{windowID}/claims/{claimID}/settle", h.handleSettleClaim)
}

type windowPayload struct {
	ID          uint64    `json:"id"`
	State       string    `json:"state"`
	OpenTime    time.Time `json:"open_time"`
	CloseTime   time.Time `json:"close_time"`
	StrikeTime  time.Time `json:"strike_time,omitzero"`
	NavAtStrike string    `json:"nav_at_strike,omitempty"`
	TotalDue    string    `json:"total_due"`
	TotalPaid   string    `json:"total_paid"`
}

func toWindowPayload(w *window.Window) windowPayload {
	p := windowPayload{
		ID:         uint64(w.ID),
		State:      w.State.String(),
		OpenTime:   w.OpenTime,
		CloseTime:  w.CloseTime,
		StrikeTime: w.StrikeTime,
		TotalDue:   w.TotalDueCapital.String(),
		TotalPaid:  w.TotalPaidCapital.String(),
	}
	if w.NavAtStrikeRay != nil {
		p.NavAtStrike = w.NavAtStrikeRay.String()
	}
	return p
}

type claimPayload struct {
	ID        uint64 `json:"id"`
	WindowID  uint64 `json:"window_id"`
	Account   string `json:"account"`
	Tokens    string `json:"tokens"`
	Paid      string `json:"paid"`
	Remaining string `json:"remaining,omitempty"`
	Closed    bool   `json:"closed"`
}

func toClaimPayload(c *window.Claim) claimPayload {
	p := claimPayload{
		ID:       uint64(c.ID),
		WindowID: uint64(c.WindowID),
		Account:  c.Account.String(),
		Tokens:   c.TokensWad.String(),
		Paid:     c.PaidCapital.String(),
		Closed:   c.Closed,
	}
	if c.RemainingCapital != nil {
		p.Remaining = c.RemainingCapital.String()
	}
	return p
}

func windowParam(r *http.Request) (id.WindowID, error) {
	raw := chi.URLParam(r, "windowID")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid window id")
	}
	return id.WindowID(n), nil
}

func claimParam(r *http.Request) (id.ClaimID, error) {
	raw := chi.URLParam(r, "claimID")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid claim id")
	}
	return id.ClaimID(n), nil
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	current, err := h.windows.Current(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toWindowPayload(current))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	windowID, err := windowParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	win, err := h.windows.Get(r.Context(), windowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toWindowPayload(win))
}

func (h *Handler) handleClaims(w http.ResponseWriter, r *http.Request) {
	windowID, err := windowParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	claims, err := h.windows.Claims(r.Context(), windowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payloads := make([]claimPayload, 0, len(claims))
	for _, c := range claims {
		payloads = append(payloads, toClaimPayload(c))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"claims": payloads})
}

type openRequest struct {
	CloseTime time.Time `json:"close_time"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[openRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	win, err := h.windows.Open(ctx, req.CloseTime)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "redemption window opened",
		"window_id", win.ID,
		"close_time", win.CloseTime,
	)
	httputil.WriteJSON(w, http.StatusCreated, toWindowPayload(win))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	windowID, err := windowParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	win, err := h.windows.Close(r.Context(), windowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toWindowPayload(win))
}

func (h *Handler) handleStrike(w http.ResponseWriter, r *http.Request) {
	windowID, err := windowParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	win, err := h.windows.Strike(r.Context(), windowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toWindowPayload(win))
}

func (h *Handler) handleMintClaims(w http.ResponseWriter, r *http.Request) {
	windowID, err := windowParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	minted, remaining, err := h.windows.MintClaims(r.Context(), windowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"minted":    minted,
		"remaining": remaining,
	})
}

func (h *Handler) handleSettleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	windowID, err := windowParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	claimID, err := claimParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	claim, err := h.windows.SettleClaim(ctx, windowID, claimID)
	if err != nil {
		h.logger.WarnContext(ctx, "claim settlement rejected",
			"window_id", windowID,
			"claim_id", claimID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClaimPayload(claim))
}
