package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"vipgate/internal/api"
	"vipgate/internal/api/dto"
	"vipgate/internal/catalog"
	"vipgate/internal/payment/ton"
	"vipgate/pkg/middleware"
)

type Payments interface {
	Initiate(ctx context.Context, userID, planID string) (*ton.Instructions, error)
	Confirm(ctx context.Context, userID, planID string) (*ton.ConfirmResult, error)
}

type Handler struct {
	payments Payments
}

func NewHandler(p Payments) *Handler {
	return &Handler{payments: p}
}

// Initiate: POST /api/payments/ton/initiate
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID, planID, ok := h.request(w, r)
	if !ok {
		return
	}

	in, err := h.payments.Initiate(r.Context(), userID, planID)
	if err != nil {
		writeTonError(w, err, userID)
		return
	}
	api.WriteJSON(w, http.StatusOK, in)
}

// Confirm: POST /api/payments/ton/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, planID, ok := h.request(w, r)
	if !ok {
		return
	}

	res, err := h.payments.Confirm(r.Context(), userID, planID)
	if err != nil {
		writeTonError(w, err, userID)
		return
	}

	status := http.StatusOK
	if res.Status == ton.StatusAlreadyUsed {
		status = http.StatusConflict
	}
	api.WriteJSON(w, status, res)
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}

	var req dto.TonPaymentRequest
	if field, err := dto.Decode(r, &req); err != nil {
		middleware.HandleValidationError(w, err, field, "")
		return "", "", false
	}
	return userID, req.PlanID, true
}

func writeTonError(w http.ResponseWriter, err error, userID string) {
	switch {
	case errors.Is(err, catalog.ErrPlanNotFound):
		api.WriteError(w, http.StatusNotFound, "plan not found")
	case errors.Is(err, ton.ErrInvalidPrice):
		api.WriteError(w, http.StatusUnprocessableEntity, "plan has no valid TON price")
	case errors.Is(err, ton.ErrNotConfigured):
		api.WriteError(w, http.StatusServiceUnavailable, "TON payments are not configured")
	case errors.Is(err, ton.ErrExplorerUnavailable):
		api.WriteError(w, http.StatusServiceUnavailable, "payment check is temporarily unavailable, try again later")
	default:
		log.Error().Err(err).Str("user_id", userID).Msg("TON: request failed")
		api.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
