// Package config loads process configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"postgres://localhost:5432/courtsync?sslmode=disable"`

	// ListenerDSN is the dedicated connection for LISTEN/NOTIFY. Empty
	// means no push feed is available and the relay falls back to
	// polling the store.
	ListenerDSN string `env:"LISTENER_DSN"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	EventRetention    time.Duration `env:"EVENT_RETENTION" envDefault:"24h"`
	DebounceWindow    time.Duration `env:"DEBOUNCE_WINDOW" envDefault:"500ms"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	ReconnectBackoff  time.Duration `env:"RECONNECT_BACKOFF" envDefault:"5s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	Debug bool `env:"DEBUG" envDefault:"false"`
}

func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment
	// directly.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("heartbeat interval must be positive")
	}
	return cfg, nil
}
