package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.TemporalAddress)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, "engine.db", cfg.StoragePath)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "temporal.internal:7233")
	t.Setenv("STORAGE_PATH", "/var/lib/engine/orders.db")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("IDEMPOTENCY_TTL", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "temporal.internal:7233", cfg.TemporalAddress)
	assert.Equal(t, "/var/lib/engine/orders.db", cfg.StoragePath)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)
}
