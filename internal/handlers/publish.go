package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/statecast/backend/internal/logging"
	"github.com/statecast/backend/internal/message"
	"github.com/statecast/backend/internal/middleware"
	"github.com/statecast/backend/internal/models"
	"github.com/statecast/backend/internal/relay"
)

const maxPublishBodyBytes = 1 << 20 // 1 MB

// PublishHandler accepts messages for broadcast on a channel.
type PublishHandler struct {
	relay    relay.Relay
	validate *validator.Validate
}

// NewPublishHandler creates a PublishHandler that hands messages to r.
func NewPublishHandler(r relay.Relay) *PublishHandler {
	return &PublishHandler{relay: r, validate: validator.New()}
}

// Publish broadcasts the request body to every subscriber of the channel.
// The caller's token must grant publish rights on the channel.
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if !channelNamePattern.MatchString(channel) {
		writeError(w, http.StatusBadRequest, "invalid channel name")
		return
	}

	claims := middleware.GetClaims(r.Context())
	if !claims.CanPublish(channel) {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventChannelForbidden, "publish to channel not permitted")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	var msg message.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBodyBytes)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}

	delivered, err := h.relay.Publish(r.Context(), channel, msg)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusBadGateway, "failed to publish message", err)
		return
	}

	if delivered < 0 {
		writeJSON(w, http.StatusAccepted, models.PublishResponse{Queued: true})
		return
	}
	writeJSON(w, http.StatusOK, models.PublishResponse{Delivered: &delivered})
}
