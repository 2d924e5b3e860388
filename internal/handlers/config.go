package handlers

import (
	"net/http"

	"github.com/statecast/backend/internal/config"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// PublicConfig returns non-sensitive configuration for stream clients
func (h *ConfigHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"heartbeatIntervalMs": h.cfg.HeartbeatInterval.Milliseconds(),
		"transports":          []string{"sse", "websocket"},
	}

	writeJSON(w, http.StatusOK, response)
}
