package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

// Match state backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	// Port is the HTTP/WebSocket listen port. WS_PORT takes precedence when
	// set, matching the deployment environments this service runs in.
	Port   int `env:"PORT" envDefault:"3001"`
	WSPort int `env:"WS_PORT"`

	// MatchBackend selects where match state is mirrored: "memory" keeps the
	// engine fully in-process, "redis" additionally publishes every match
	// transition to the shared store for multi-instance reads.
	MatchBackend string `env:"MATCH_BACKEND" envDefault:"memory"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// RateLimitPerSecond caps inbound messages per connection.
	RateLimitPerSecond int `env:"RATE_LIMIT_PER_SECOND" envDefault:"20"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MatchBackend != BackendMemory && cfg.MatchBackend != BackendRedis {
		return Config{}, fmt.Errorf("invalid MATCH_BACKEND %q", cfg.MatchBackend)
	}
	return cfg, nil
}

// ListenPort returns the effective port, honoring the WS_PORT override.
func (c Config) ListenPort() int {
	if c.WSPort != 0 {
		return c.WSPort
	}
	return c.Port
}
