package handlers

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/statecast/backend/internal/logging"
	"github.com/statecast/backend/internal/middleware"
	"github.com/statecast/backend/internal/registry"
	"github.com/statecast/backend/internal/services"
	"github.com/statecast/backend/internal/stream"
)

var (
	channelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)
	clientNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)
)

// StreamHandler serves long-lived subscriber connections over SSE and WebSocket.
type StreamHandler struct {
	registry   *registry.Registry
	ids        *services.ClientIDGenerator
	heartbeat  time.Duration
	bufferSize int
	upgrader   websocket.Upgrader
}

// NewStreamHandler creates a StreamHandler. WebSocket upgrades are accepted
// from allowedOrigins and from clients that send no Origin header.
func NewStreamHandler(reg *registry.Registry, ids *services.ClientIDGenerator, heartbeat time.Duration, bufferSize int, allowedOrigins []string) *StreamHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &StreamHandler{
		registry:   reg,
		ids:        ids,
		heartbeat:  heartbeat,
		bufferSize: bufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// subscriberIdentity validates the channel and derives the client ID and source address.
func (h *StreamHandler) subscriberIdentity(w http.ResponseWriter, r *http.Request) (channel, clientID, address string, ok bool) {
	channel = chi.URLParam(r, "channel")
	if !channelNamePattern.MatchString(channel) {
		writeError(w, http.StatusBadRequest, "invalid channel name")
		return "", "", "", false
	}

	if name := r.URL.Query().Get("clientId"); name != "" {
		if !clientNamePattern.MatchString(name) {
			writeError(w, http.StatusBadRequest, "invalid clientId")
			return "", "", "", false
		}
		clientID = h.ids.WithTimestamp(name)
	} else {
		clientID = h.ids.Generate()
	}

	return channel, clientID, middleware.ClientIP(r), true
}

// Events opens an SSE stream on a channel. It sends an initial "connected"
// event carrying the client ID, then one "message" event per broadcast. A
// heartbeat comment keeps the connection alive through proxies. A newer
// stream from the same client address replaces this one.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	channel, clientID, address, ok := h.subscriberIdentity(w, r)
	if !ok {
		return
	}

	conn := stream.NewConn(h.bufferSize)
	h.registry.Subscribe(channel, conn, clientID, address)

	if err := stream.ServeSSE(r.Context(), w, conn, clientID, h.heartbeat); err != nil {
		fields := logging.RequestFields(r.Context())
		fields = append(fields, slog.String("client_id", clientID), slog.Any("error", err))
		slog.DebugContext(r.Context(), "sse stream ended with error", fields...)
	}
}

// WebSocket opens a write-only WebSocket stream on a channel with the same
// semantics as Events.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	channel, clientID, address, ok := h.subscriberIdentity(w, r)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		fields := logging.RequestFields(r.Context())
		fields = append(fields, slog.Any("error", err))
		slog.DebugContext(r.Context(), "websocket upgrade failed", fields...)
		return
	}
	defer ws.Close()

	conn := stream.NewConn(h.bufferSize)
	h.registry.Subscribe(channel, conn, clientID, address)

	if err := stream.ServeWebSocket(r.Context(), ws, conn, h.heartbeat); err != nil {
		fields := logging.RequestFields(r.Context())
		fields = append(fields, slog.String("client_id", clientID), slog.Any("error", err))
		slog.DebugContext(r.Context(), "websocket stream ended with error", fields...)
	}
}
