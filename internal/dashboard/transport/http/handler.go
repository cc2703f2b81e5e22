package http

import (
	"net/http"

	"vipgate/internal/api"
	"vipgate/pkg/middleware"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

type meResponse struct {
	TelegramID string `json:"telegram_id"`
	Role       string `json:"role"`
}

// Me: GET /auth/me, кто владелец токена.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	role, _ := r.Context().Value(middleware.RoleKey).(string)
	api.WriteJSON(w, http.StatusOK, meResponse{TelegramID: id, Role: role})
}
