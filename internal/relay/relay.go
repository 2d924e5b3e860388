// Package relay carries published messages to the subscription registry. The
// local relay broadcasts in-process; the Redis and NATS relays fan a publish out
// to every server instance, each broadcasting into its own registry.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/statecast/backend/internal/message"
)

// Backend names accepted by configuration.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendNATS  = "nats"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown relay backend")

// Broadcaster is the registry side of a relay.
type Broadcaster interface {
	Broadcast(channel string, msg message.Message) int
}

// Relay publishes messages and delivers them to the local registry.
type Relay interface {
	// Publish hands msg to the relay. For the local relay the returned count is
	// the number of subscribers reached; distributed relays return -1.
	Publish(ctx context.Context, channel string, msg message.Message) (int, error)
	// Run consumes relayed messages until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// envelope is the wire form shared by the distributed relays. The channel is
// carried in the body so any channel name survives subject/key restrictions.
type envelope struct {
	Channel string          `json:"channel"`
	Message message.Message `json:"message"`
}

func encodeEnvelope(channel string, msg message.Message) ([]byte, error) {
	return json.Marshal(envelope{Channel: channel, Message: msg})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Channel == "" {
		return envelope{}, errors.New("envelope missing channel")
	}
	return env, nil
}

// Options selects and configures a relay backend.
type Options struct {
	Backend     string
	RedisURL    string
	RedisPrefix string
	NATSURL     string
	NATSPrefix  string
}

// New builds the relay named by opts.Backend, delivering into target.
func New(opts Options, target Broadcaster, logger *slog.Logger) (Relay, error) {
	switch opts.Backend {
	case "", BackendLocal:
		return NewLocal(target), nil
	case BackendRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return NewRedis(RedisConfig{
			Client: redis.NewClient(redisOpts),
			Prefix: opts.RedisPrefix,
		}, target, logger), nil
	case BackendNATS:
		nc, err := Connect(NATSConnectParams{
			ServerURI:      opts.NATSURL,
			ConnectTimeout: 10 * time.Second,
			ReconnectWait:  2 * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		return NewNATS(nc, opts.NATSPrefix, target, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
