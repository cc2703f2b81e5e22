package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vipgate/internal/catalog"
	"vipgate/internal/subscription"
	"vipgate/internal/subscription/service"
	"vipgate/internal/sweeper"
	"vipgate/pkg/middleware"
)

type fakeSubs struct {
	byUser map[string][]*subscription.Subscription
	all    []*subscription.Subscription
	err    error

	granted []string
	kicked  []string
}

func (f *fakeSubs) ListByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	return f.byUser[userID], f.err
}

func (f *fakeSubs) ListAll(ctx context.Context) ([]*subscription.Subscription, error) {
	return f.all, f.err
}

func (f *fakeSubs) ManualGrant(ctx context.Context, userID, planID, channelID string) (*service.GrantResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.granted = append(f.granted, userID+":"+planID+"@"+channelID)
	return &service.GrantResult{Subscription: &subscription.Subscription{UserID: userID, PlanID: planID}, AccessOK: true}, nil
}

func (f *fakeSubs) Kick(ctx context.Context, userID, channelID string) (*service.KickResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.kicked = append(f.kicked, userID+"@"+channelID)
	return &service.KickResult{Deactivated: 2, RevokeOK: true}, nil
}

type fakeSweeper struct {
	at time.Time
}

func (f *fakeSweeper) RunOnce(ctx context.Context, now time.Time) sweeper.Report {
	f.at = now
	return sweeper.Report{Scanned: 3, Expired: 2, Skipped: 1}
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
}

func TestList(t *testing.T) {
	subs := &fakeSubs{
		byUser: map[string][]*subscription.Subscription{"42": {{ID: "a", UserID: "42"}}},
		all:    []*subscription.Subscription{{ID: "a"}, {ID: "b"}},
	}
	h := NewSubscriptionHandler(subs, &fakeSweeper{})

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/admin/subscriptions?user_id=42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got []subscription.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/admin/subscriptions", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/admin/subscriptions?user_id=7", nil))
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestMine(t *testing.T) {
	h := NewSubscriptionHandler(&fakeSubs{
		byUser: map[string][]*subscription.Subscription{"42": {{ID: "a", UserID: "42"}}},
	}, &fakeSweeper{})

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/me", nil)
	w := httptest.NewRecorder()
	h.Mine(w, req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "42")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"a"`)

	w = httptest.NewRecorder()
	h.Mine(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGrant(t *testing.T) {
	subs := &fakeSubs{}
	h := NewSubscriptionHandler(subs, &fakeSweeper{})

	w := httptest.NewRecorder()
	h.Grant(w, post(`{"user_id":"42","plan_id":"p30"}`))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"42:p30@"}, subs.granted)
	assert.Contains(t, w.Body.String(), `"access_ok":true`)
}

func TestGrant_Validation(t *testing.T) {
	subs := &fakeSubs{}
	h := NewSubscriptionHandler(subs, &fakeSweeper{})

	w := httptest.NewRecorder()
	h.Grant(w, post(`{"user_id":"abc","plan_id":"p30"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"UserID"`)
	assert.Empty(t, subs.granted)
}

func TestGrant_UnknownPlan(t *testing.T) {
	h := NewSubscriptionHandler(&fakeSubs{err: catalog.ErrPlanNotFound}, &fakeSweeper{})

	w := httptest.NewRecorder()
	h.Grant(w, post(`{"user_id":"42","plan_id":"nope"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKick(t *testing.T) {
	subs := &fakeSubs{}
	h := NewSubscriptionHandler(subs, &fakeSweeper{})

	w := httptest.NewRecorder()
	h.Kick(w, post(`{"user_id":"42","channel_id":"-1001"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"42@-1001"}, subs.kicked)
	assert.JSONEq(t, `{"deactivated":2,"revoke_ok":true}`, w.Body.String())

	w = httptest.NewRecorder()
	h.Kick(w, post(`{"user_id":"42"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKick_StoreFailure(t *testing.T) {
	h := NewSubscriptionHandler(&fakeSubs{err: errors.New("connection refused")}, &fakeSweeper{})

	w := httptest.NewRecorder()
	h.Kick(w, post(`{"user_id":"42","channel_id":"-1001"}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSweep(t *testing.T) {
	sw := &fakeSweeper{}
	h := NewSubscriptionHandler(&fakeSubs{}, sw)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	w := httptest.NewRecorder()
	h.Sweep(w, post(``))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, now, sw.at)
	assert.JSONEq(t, `{"scanned":3,"expired":2,"skipped":1,"revoke_failed":0,"notify_failed":0}`, w.Body.String())
}
