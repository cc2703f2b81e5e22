package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vipgate/pkg/jwt"
	"vipgate/pkg/middleware"
)

func TestMe(t *testing.T) {
	token, err := jwt.GenerateToken("secret", "42", jwt.RoleUser, time.Hour)
	require.NoError(t, err)

	handler := middleware.JWTAuth("secret")(http.HandlerFunc(NewHandler().Me))
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"telegram_id":"42","role":"user"}`, w.Body.String())
}

func TestMe_NoUser(t *testing.T) {
	w := httptest.NewRecorder()
	NewHandler().Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
