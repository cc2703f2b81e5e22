package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"vipgate/internal/api"
	"vipgate/internal/api/dto"
	"vipgate/internal/catalog"
	"vipgate/internal/subscription"
	"vipgate/internal/subscription/service"
	"vipgate/internal/sweeper"
	"vipgate/pkg/middleware"
)

type Subscriptions interface {
	ListByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error)
	ListAll(ctx context.Context) ([]*subscription.Subscription, error)
	ManualGrant(ctx context.Context, userID, planID, channelID string) (*service.GrantResult, error)
	Kick(ctx context.Context, userID, channelID string) (*service.KickResult, error)
}

type Sweeper interface {
	RunOnce(ctx context.Context, now time.Time) sweeper.Report
}

type Handler struct {
	subs    Subscriptions
	sweeper Sweeper
	now     func() time.Time
}

func NewSubscriptionHandler(subs Subscriptions, sw Sweeper) *Handler {
	return &Handler{subs: subs, sweeper: sw, now: time.Now}
}

// Mine: GET /api/subscriptions/me
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	subs, err := h.subs.ListByUser(r.Context(), userID)
	if err != nil {
		internalError(w, err, "list user subscriptions")
		return
	}
	api.WriteJSON(w, http.StatusOK, nonNil(subs))
}

// List: GET /api/admin/subscriptions?user_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var (
		subs []*subscription.Subscription
		err  error
	)
	if userID := strings.TrimSpace(r.URL.Query().Get("user_id")); userID != "" {
		subs, err = h.subs.ListByUser(r.Context(), userID)
	} else {
		subs, err = h.subs.ListAll(r.Context())
	}
	if err != nil {
		internalError(w, err, "list subscriptions")
		return
	}
	api.WriteJSON(w, http.StatusOK, nonNil(subs))
}

// Grant: POST /api/admin/subscriptions/grant
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req dto.ManualGrantRequest
	if field, err := dto.Decode(r, &req); err != nil {
		middleware.HandleValidationError(w, err, field, "")
		return
	}

	res, err := h.subs.ManualGrant(r.Context(), req.UserID, req.PlanID, req.ChannelID)
	if err != nil {
		if errors.Is(err, catalog.ErrPlanNotFound) {
			api.WriteError(w, http.StatusNotFound, "plan not found")
			return
		}
		internalError(w, err, "manual grant")
		return
	}
	api.WriteJSON(w, http.StatusCreated, res)
}

// Kick: POST /api/admin/subscriptions/kick
func (h *Handler) Kick(w http.ResponseWriter, r *http.Request) {
	var req dto.KickRequest
	if field, err := dto.Decode(r, &req); err != nil {
		middleware.HandleValidationError(w, err, field, "")
		return
	}

	res, err := h.subs.Kick(r.Context(), req.UserID, req.ChannelID)
	if err != nil {
		internalError(w, err, "kick")
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// Sweep: POST /api/admin/sweep, внеочередной проход по истёкшим подпискам.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	report := h.sweeper.RunOnce(r.Context(), h.now())
	api.WriteJSON(w, http.StatusOK, report)
}

func internalError(w http.ResponseWriter, err error, op string) {
	log.Error().Err(err).Str("op", op).Msg("Subscription: request failed")
	api.WriteError(w, http.StatusInternalServerError, "internal error")
}

func nonNil(subs []*subscription.Subscription) []*subscription.Subscription {
	if subs == nil {
		return []*subscription.Subscription{}
	}
	return subs
}
