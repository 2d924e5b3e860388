package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/statecast/backend/internal/config"
	"github.com/statecast/backend/internal/logging"
	"github.com/statecast/backend/internal/message"
	"github.com/statecast/backend/internal/registry"
	"github.com/statecast/backend/internal/relay"
	"github.com/statecast/backend/internal/router"
	scrub "github.com/statecast/backend/internal/sentry"
	"github.com/urfave/cli/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type cliArgs struct {
	EnvFile  string
	LogLevel string
}

var cmdArgs cliArgs

func main() {
	app := &cli.App{
		Name:        "statecast",
		Usage:       "channel-scoped state broadcast server",
		Description: "Streams channel messages to subscribers over SSE and WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "Optional .env file loaded before reading the environment",
				Aliases:     []string{"e"},
				EnvVars:     []string{"ENV_FILE"},
				Destination: &cmdArgs.EnvFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOGGING_LEVEL"},
				Value:       "info",
				Destination: &cmdArgs.LogLevel,
			},
		},
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	// Initialize structured logging
	logging.Initialize(cmdArgs.LogLevel)

	cfg, err := config.Load(cmdArgs.EnvFile)
	if err != nil {
		return logging.WrapError(err, "failed to load configuration")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:                   cfg.SentryDSN,
			Environment:           cfg.SentryEnvironment,
			BeforeSend:            scrub.ScrubEvent,
			BeforeSendTransaction: scrub.ScrubTransaction,
		}); err != nil {
			return logging.WrapError(err, "failed to initialize sentry")
		}
		defer sentry.Flush(2 * time.Second)
		slog.Info("sentry enabled", slog.String("environment", cfg.SentryEnvironment))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(message.TransformerFor(cfg.AssetBaseURL), slog.Default())

	rel, err := relay.New(relay.Options{
		Backend:     cfg.RelayBackend,
		RedisURL:    cfg.RedisURL,
		RedisPrefix: cfg.RedisChannelPrefix,
		NATSURL:     cfg.NATSURL,
		NATSPrefix:  cfg.NATSSubjectPrefix,
	}, reg, slog.Default())
	if err != nil {
		return logging.WrapError(err, "failed to create relay")
	}

	relayDone := make(chan error, 1)
	go func() {
		relayDone <- rel.Run(ctx)
	}()

	addr := ":" + cfg.Port
	// No WriteTimeout: subscriber streams are long-lived.
	httpSrv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           h2c.NewHandler(router.New(cfg, reg, rel), &http2.Server{}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("starting server",
		slog.String("addr", addr),
		slog.String("relay", cfg.RelayBackend),
	)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			return logging.WrapError(err, "http server failed")
		}
	case err := <-relayDone:
		if err != nil {
			slog.Error("relay stopped", slog.Any("error", err))
		}
		stop()
	}

	slog.Info("shutting down")

	// Closing subscribers first lets their handlers return so Shutdown can drain.
	reg.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failure during http shutdown", slog.Any("error", err))
	}

	if err := rel.Close(); err != nil {
		slog.Error("failure closing relay", slog.Any("error", err))
	}
	return nil
}
