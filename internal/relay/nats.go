package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/statecast/backend/internal/message"
)

// NATSConnectParams NATS connection parameters
type NATSConnectParams struct {
	// ServerURI is the NATS connection URI
	ServerURI string
	// ConnectTimeout is the max time to wait for the connection
	ConnectTimeout time.Duration
	// ReconnectWait is the wait between reconnect attempts
	ReconnectWait time.Duration
}

// Connect dials NATS, retrying in the background on failure.
func Connect(param NATSConnectParams, logger *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(
		param.ServerURI,
		nats.Timeout(param.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(param.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Error("NATS client disconnected", slog.String("server", param.ServerURI), slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Warn("NATS client reconnected", slog.String("server", param.ServerURI))
		}),
	)
}

// NATS relays publishes through core NATS subjects (no JetStream, no persistence).
type NATS struct {
	nc     *nats.Conn
	prefix string
	target Broadcaster
	logger *slog.Logger
}

// NewNATS creates a NATS relay delivering into target. prefix defaults to "statecast".
func NewNATS(nc *nats.Conn, prefix string, target Broadcaster, logger *slog.Logger) *NATS {
	if prefix == "" {
		prefix = "statecast"
	}
	return &NATS{
		nc:     nc,
		prefix: prefix,
		target: target,
		logger: logger.With(slog.String("component", "relay"), slog.String("backend", BackendNATS)),
	}
}

// subject maps a channel to a NATS subject. Channel names may contain
// characters NATS reserves, so they are not embedded in the subject.
func (n *NATS) subject() string {
	return n.prefix + ".broadcast"
}

// Publish implements Relay.
func (n *NATS) Publish(_ context.Context, channel string, msg message.Message) (int, error) {
	data, err := encodeEnvelope(channel, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := n.nc.Publish(n.subject(), data); err != nil {
		return 0, fmt.Errorf("failed to publish to nats: %w", err)
	}
	return -1, nil
}

// Run implements Relay.
func (n *NATS) Run(ctx context.Context) error {
	sub, err := n.nc.Subscribe(n.subject(), func(m *nats.Msg) {
		env, err := decodeEnvelope(m.Data)
		if err != nil {
			n.logger.Warn("dropping malformed relay message",
				slog.String("subject", m.Subject),
				slog.Any("error", err),
			)
			return
		}
		n.target.Broadcast(env.Channel, env.Message)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to nats: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	n.logger.Info("relay subscribed", slog.String("subject", n.subject()))

	<-ctx.Done()
	return nil
}

// Close implements Relay.
func (n *NATS) Close() error {
	if err := n.nc.Flush(); err != nil {
		n.logger.Error("NATS flush failed", slog.Any("error", err))
	}
	n.nc.Close()
	return nil
}
