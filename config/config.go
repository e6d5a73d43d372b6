// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration shared by the worker, the API
// server, and the starter.
type Config struct {
	TemporalAddress string `env:"TEMPORAL_ADDRESS" envDefault:"localhost:7233"`
	HTTPListenAddr  string `env:"HTTP_LISTEN_ADDR" envDefault:":8080"`
	StoragePath     string `env:"STORAGE_PATH" envDefault:"engine.db"`

	// Rate limiting for the external intake, per token.
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	MaxConcurrentActivities    int `env:"MAX_CONCURRENT_ACTIVITIES" envDefault:"100"`
	MaxConcurrentWorkflowTasks int `env:"MAX_CONCURRENT_WORKFLOW_TASKS" envDefault:"50"`
}

// Load populates Config from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
