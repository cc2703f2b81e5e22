package dto

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user_id":"42","plan_id":"p30"}`))
	var body ManualGrantRequest
	field, err := Decode(req, &body)
	require.NoError(t, err)
	assert.Empty(t, field)
	assert.Equal(t, "42", body.UserID)
}

func TestDecode_ValidationFailure(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user_id":"abc","channel_id":"-1001"}`))
	var body KickRequest
	field, err := Decode(req, &body)
	assert.Error(t, err)
	assert.Equal(t, "UserID", field)
}

func TestDecode_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	var body CheckoutRequest
	_, err := Decode(req, &body)
	assert.EqualError(t, err, "invalid JSON")
}
