package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/statecast/backend/internal/config"
	"github.com/statecast/backend/internal/message"
	"github.com/statecast/backend/internal/middleware"
	"github.com/statecast/backend/internal/models"
	"github.com/statecast/backend/internal/registry"
	"github.com/statecast/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	delivered int
	err       error
	channel   string
	msg       message.Message
}

func (f *fakeRelay) Publish(_ context.Context, channel string, msg message.Message) (int, error) {
	f.channel = channel
	f.msg = msg
	return f.delivered, f.err
}

func (f *fakeRelay) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeRelay) Close() error                  { return nil }

func publishRequest(channel, body string, claims *services.Claims) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/channels/"+channel+"/messages", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("channel", channel)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if claims != nil {
		ctx = context.WithValue(ctx, middleware.ClaimsKey, claims)
	}
	return req.WithContext(ctx)
}

func TestPublish_DeliveredCount(t *testing.T) {
	rel := &fakeRelay{delivered: 3}
	h := NewPublishHandler(rel)
	rec := httptest.NewRecorder()

	h.Publish(rec, publishRequest("lobby", `{"type":"state_update","payload":{"a":1},"meta":{"rev":"7"}}`,
		&services.Claims{Role: services.RolePublisher, Channel: "lobby"}))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.PublishResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Delivered)
	assert.Equal(t, 3, *resp.Delivered)
	assert.False(t, resp.Queued)
	assert.Equal(t, "lobby", rel.channel)
	assert.Equal(t, message.KindStateUpdate, rel.msg.Type)
	assert.Equal(t, "7", rel.msg.Meta["rev"])
}

func TestPublish_QueuedByDistributedRelay(t *testing.T) {
	h := NewPublishHandler(&fakeRelay{delivered: -1})
	rec := httptest.NewRecorder()

	h.Publish(rec, publishRequest("lobby", `{"type":"event"}`, &services.Claims{Role: services.RoleAdmin}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp models.PublishResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Nil(t, resp.Delivered)
	assert.True(t, resp.Queued)
}

func TestPublish_RelayFailure(t *testing.T) {
	h := NewPublishHandler(&fakeRelay{err: errors.New("connection refused")})
	rec := httptest.NewRecorder()

	h.Publish(rec, publishRequest("lobby", `{"type":"event"}`, &services.Claims{Role: services.RoleAdmin}))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to publish message")
}

func TestPublish_Forbidden(t *testing.T) {
	rel := &fakeRelay{}
	h := NewPublishHandler(rel)

	tests := []struct {
		name   string
		claims *services.Claims
	}{
		{"no claims", nil},
		{"other channel", &services.Claims{Role: services.RolePublisher, Channel: "kitchen"}},
		{"unknown role", &services.Claims{Role: "viewer", Channel: "lobby"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Publish(rec, publishRequest("lobby", `{"type":"event"}`, tt.claims))
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
	assert.Empty(t, rel.channel, "relay must not be called")
}

func TestPublish_BodyTooLarge(t *testing.T) {
	h := NewPublishHandler(&fakeRelay{})
	rec := httptest.NewRecorder()
	body := `{"type":"event","payload":"` + strings.Repeat("a", maxPublishBodyBytes) + `"}`

	h.Publish(rec, publishRequest("lobby", body, &services.Claims{Role: services.RoleAdmin}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicConfig(t *testing.T) {
	h := NewConfigHandler(&config.Config{HeartbeatInterval: 15 * time.Second})
	rec := httptest.NewRecorder()

	h.PublicConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"heartbeatIntervalMs":15000,"transports":["sse","websocket"]}`, rec.Body.String())
}

func TestChannelNamePattern(t *testing.T) {
	valid := []string{"lobby", "room:42", "team.a-b_c", strings.Repeat("x", 128)}
	invalid := []string{"", "has space", "slash/inside", strings.Repeat("x", 129)}

	for _, name := range valid {
		assert.True(t, channelNamePattern.MatchString(name), name)
	}
	for _, name := range invalid {
		assert.False(t, channelNamePattern.MatchString(name), name)
	}
}

func TestIssueToken_BodyTooLarge(t *testing.T) {
	cfg := &config.Config{AdminPassword: "pw"}
	h := NewAdminHandler(cfg, services.NewAuthService("secret", time.Hour, time.Hour), registry.New(nil, nil))
	body := `{"passwordHash":"` + strings.Repeat("a", maxTokenBodyBytes) + `","role":"admin"}`

	rec := httptest.NewRecorder()
	h.IssueToken(rec, httptest.NewRequest(http.MethodPost, "/api/admin/token", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestIssueToken_BadPassword(t *testing.T) {
	cfg := &config.Config{AdminPassword: "pw"}
	h := NewAdminHandler(cfg, services.NewAuthService("secret", time.Hour, time.Hour), registry.New(nil, nil))

	rec := httptest.NewRecorder()
	h.IssueToken(rec, httptest.NewRequest(http.MethodPost, "/api/admin/token",
		strings.NewReader(`{"passwordHash":"00","role":"admin"}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
