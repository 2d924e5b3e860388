package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/statecast/backend/internal/message"
)

// RedisConfig contains configuration options for the Redis relay.
type RedisConfig struct {
	// Client is the Redis client to use.
	Client redis.UniversalClient
	// Prefix is prepended to the Pub/Sub channel names. Defaults to "statecast:".
	Prefix string
}

// Redis relays publishes through Redis Pub/Sub. Delivery is fire-and-forget:
// instances that are not subscribed when a message is published miss it.
type Redis struct {
	client redis.UniversalClient
	prefix string
	target Broadcaster
	logger *slog.Logger
}

// NewRedis creates a Redis relay delivering into target.
func NewRedis(cfg RedisConfig, target Broadcaster, logger *slog.Logger) *Redis {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "statecast:"
	}
	return &Redis{
		client: cfg.Client,
		prefix: prefix,
		target: target,
		logger: logger.With(slog.String("component", "relay"), slog.String("backend", BackendRedis)),
	}
}

// Publish implements Relay.
func (r *Redis) Publish(ctx context.Context, channel string, msg message.Message) (int, error) {
	data, err := encodeEnvelope(channel, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+channel, data).Err(); err != nil {
		return 0, fmt.Errorf("failed to publish to redis: %w", err)
	}
	return -1, nil
}

// Run implements Relay.
func (r *Redis) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to redis: %w", err)
	}
	r.logger.Info("relay subscribed", slog.String("pattern", r.prefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := decodeEnvelope([]byte(m.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed relay message",
					slog.String("redis_channel", m.Channel),
					slog.Any("error", err),
				)
				continue
			}
			r.target.Broadcast(env.Channel, env.Message)
		}
	}
}

// Close implements Relay.
func (r *Redis) Close() error {
	return r.client.Close()
}
