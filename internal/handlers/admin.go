package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/statecast/backend/internal/config"
	"github.com/statecast/backend/internal/crypto"
	"github.com/statecast/backend/internal/logging"
	"github.com/statecast/backend/internal/models"
	"github.com/statecast/backend/internal/registry"
	"github.com/statecast/backend/internal/services"
)

const maxTokenBodyBytes = 4 << 10 // 4 KB

type AdminHandler struct {
	cfg      *config.Config
	auth     *services.AuthService
	registry *registry.Registry
	validate *validator.Validate
}

func NewAdminHandler(cfg *config.Config, auth *services.AuthService, reg *registry.Registry) *AdminHandler {
	return &AdminHandler{cfg: cfg, auth: auth, registry: reg, validate: validator.New()}
}

// IssueToken exchanges today's scrypt hash of the admin password for a signed
// admin or publisher token.
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if !crypto.VerifyDailyHash(h.cfg.AdminPassword, req.PasswordHash) {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadAdminPassword, "invalid admin password hash")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	role := services.Role(req.Role)
	channel := req.Channel
	if channel == "" {
		channel = services.AnyChannel
	}

	token, err := h.auth.GenerateToken(channel, role)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusOK, models.TokenResponse{Token: token, Role: req.Role, Channel: channel})
}

// Subscribers lists active subscribers, optionally filtered by ?channel=.
func (h *AdminHandler) Subscribers(w http.ResponseWriter, r *http.Request) {
	views := h.registry.ListSubscribers(r.URL.Query().Get("channel"))
	writeJSON(w, http.StatusOK, models.SubscribersResponse{Subscribers: views, Count: len(views)})
}

// Channels returns per-channel subscriber counts and views.
func (h *AdminHandler) Channels(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.ChannelStats()
	total := 0
	for _, s := range stats {
		total += s.Count
	}
	writeJSON(w, http.StatusOK, models.ChannelsResponse{Channels: stats, TotalSubscribers: total})
}
