// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port                   string        `env:"PORT" envDefault:"8080" validate:"required,numeric"`
	JWTSecret              string        `env:"JWT_SECRET" envDefault:"change-me-in-production" validate:"required"` // #nosec G101 -- intentional dev default
	AdminPassword          string        `env:"ADMIN_PASSWORD" envDefault:"admin123" validate:"required"`            // #nosec G101 -- intentional dev default
	AdminTokenDuration     time.Duration `env:"ADMIN_TOKEN_DURATION" envDefault:"168h" validate:"gt=0"`
	PublisherTokenDuration time.Duration `env:"PUBLISHER_TOKEN_DURATION" envDefault:"24h" validate:"gt=0"`
	StreamRateLimit        int           `env:"STREAM_RATE_LIMIT_PER_MINUTE" envDefault:"30" validate:"gt=0"`
	CORSAllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://localhost:3000" envSeparator:","`
	TrustedProxies         []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	HeartbeatInterval      time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s" validate:"gt=0"`
	StreamBufferSize       int           `env:"STREAM_BUFFER_SIZE" envDefault:"64" validate:"gt=0"`
	AssetBaseURL           string        `env:"ASSET_BASE_URL" validate:"omitempty,url"`
	RelayBackend           string        `env:"RELAY_BACKEND" envDefault:"local" validate:"oneof=local redis nats"`
	RedisURL               string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0" validate:"required_if=RelayBackend redis"`
	RedisChannelPrefix     string        `env:"REDIS_CHANNEL_PREFIX" envDefault:"statecast:"`
	NATSURL                string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222" validate:"required_if=RelayBackend nats"`
	NATSSubjectPrefix      string        `env:"NATS_SUBJECT_PREFIX" envDefault:"statecast"`
	SentryDSN              string        `env:"SENTRY_DSN"`
	SentryEnvironment      string        `env:"SENTRY_ENVIRONMENT" envDefault:"production"`
}

// Load reads configuration from environment variables, using defaults where not set.
// If envFile is non-empty it is loaded first; a missing default ".env" is ignored.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
