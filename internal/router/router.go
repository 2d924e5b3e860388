package router

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/statecast/backend/internal/config"
	"github.com/statecast/backend/internal/handlers"
	"github.com/statecast/backend/internal/middleware"
	"github.com/statecast/backend/internal/registry"
	"github.com/statecast/backend/internal/relay"
	"github.com/statecast/backend/internal/services"
)

func New(cfg *config.Config, reg *registry.Registry, rel relay.Relay) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.AdminTokenDuration, cfg.PublisherTokenDuration)
	clientIDs := services.NewClientIDGenerator()

	// Handlers
	configHandler := handlers.NewConfigHandler(cfg)
	streamHandler := handlers.NewStreamHandler(reg, clientIDs, cfg.HeartbeatInterval, cfg.StreamBufferSize, cfg.CORSAllowedOrigins)
	publishHandler := handlers.NewPublishHandler(rel)
	adminHandler := handlers.NewAdminHandler(cfg, authService, reg)

	// Error reporting for request/response routes. Streams are left unwrapped
	// so their writers keep Flush and Hijack.
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle

	// Rate limiter for opening streams
	streamRateLimiter := middleware.NewRateLimiter(cfg.StreamRateLimit)

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Public configuration (heartbeat interval, transports)
		r.Get("/config", configHandler.PublicConfig)

		r.Route("/channels/{channel}", func(r chi.Router) {
			// Subscriber streams (no auth, rate limited)
			r.With(streamRateLimiter.Middleware).Get("/events", streamHandler.Events)
			r.With(streamRateLimiter.Middleware).Get("/ws", streamHandler.WebSocket)

			// Publishing requires a publisher or admin token
			r.With(
				sentryHandler,
				middleware.AuthMiddleware(authService),
				middleware.UpdateRequestContextMiddleware,
			).Post("/messages", publishHandler.Publish)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(sentryHandler)

			// Token exchange (no auth, password hash in body)
			r.Post("/token", adminHandler.IssueToken)

			// Registry diagnostics
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthMiddleware(authService))
				r.Use(middleware.UpdateRequestContextMiddleware)
				r.Use(middleware.RequireRole(services.RoleAdmin))

				r.Get("/subscribers", adminHandler.Subscribers)
				r.Get("/channels", adminHandler.Channels)
			})
		})
	})

	return r
}
