package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"vipgate/internal/api"
	"vipgate/internal/api/dto"
	"vipgate/internal/catalog"
	"vipgate/internal/payment/stripe"
	"vipgate/pkg/middleware"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

type WebhookReconciler interface {
	Handle(ctx context.Context, payload []byte, sigHeader string) stripe.Outcome
}

type CheckoutCreator interface {
	CreateSession(ctx context.Context, userID, planID string) (string, error)
}

type PortalCreator interface {
	CreatePortalSession(ctx context.Context, userID string) (string, error)
}

type Handler struct {
	reconciler WebhookReconciler
	checkout   CheckoutCreator
	portal     PortalCreator
}

func NewHandler(r WebhookReconciler, c CheckoutCreator, p PortalCreator) *Handler {
	return &Handler{reconciler: r, checkout: c, portal: p}
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

// Webhook: POST /webhooks/stripe. Тело читается как есть: подпись считается по сырым байтам.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	out := h.reconciler.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	api.WriteJSON(w, out.Status, webhookResponse{
		Received: out.Status == http.StatusOK,
		Status:   out.Result,
	})
}

// Checkout: POST /api/payments/stripe/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req dto.CheckoutRequest
	if field, err := dto.Decode(r, &req); err != nil {
		middleware.HandleValidationError(w, err, field, "")
		return
	}

	url, err := h.checkout.CreateSession(r.Context(), userID, req.PlanID)
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
	case errors.Is(err, catalog.ErrPlanNotFound):
		api.WriteError(w, http.StatusNotFound, "plan not found")
	case errors.Is(err, stripe.ErrPlanNotPurchasable):
		api.WriteError(w, http.StatusUnprocessableEntity, "plan cannot be purchased with card")
	case errors.Is(err, stripe.ErrNotConfigured):
		api.WriteError(w, http.StatusServiceUnavailable, "card payments are not configured")
	default:
		log.Error().Err(err).Str("user_id", userID).Msg("Stripe: checkout failed")
		api.WriteError(w, http.StatusBadGateway, "failed to create checkout session")
	}
}

// Portal: POST /api/payments/stripe/portal. Ссылка на управление картой и отмену подписки.
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	url, err := h.portal.CreatePortalSession(r.Context(), userID)
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
	case errors.Is(err, stripe.ErrNoStripeSubscription):
		api.WriteError(w, http.StatusNotFound, "no active subscription managed by Stripe")
	case errors.Is(err, stripe.ErrNotConfigured):
		api.WriteError(w, http.StatusServiceUnavailable, "card payments are not configured")
	default:
		log.Error().Err(err).Str("user_id", userID).Msg("Stripe: portal failed")
		api.WriteError(w, http.StatusBadGateway, "failed to open billing portal")
	}
}
