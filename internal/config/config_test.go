package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, DefaultVIESEndpoint, cfg.VIESEndpoint)
	assert.Equal(t, 15*time.Second, cfg.VIESSyncTimeout)
	assert.Equal(t, 60*time.Second, cfg.VIESAsyncTimeout)
	assert.Equal(t, 30*time.Second, cfg.SyncJobTimeout)
	assert.Equal(t, 100, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.SyncBackoff)
	assert.Equal(t, 60*time.Second, cfg.AsyncBackoff)
	assert.Equal(t, "none", cfg.CacheBackend)
	assert.Equal(t, 2, cfg.CacheFreshDays)
	assert.Equal(t, 5, cfg.CallbackAttempts)
	assert.Equal(t, 5*time.Second, cfg.CallbackBackoff)
	assert.Zero(t, cfg.UpstreamRateCapacity)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("SYNC_BACKOFF", "250ms")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("UPSTREAM_RATE_REFILL_PER_SEC", "0.5")
	t.Setenv("MAX_QUEUE_LENGTH", "not-a-number")

	cfg := Load()

	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.SyncBackoff)
	assert.True(t, cfg.S3PathStyle)
	assert.InDelta(t, 0.5, cfg.UpstreamRateRefill, 1e-9)
	assert.Zero(t, cfg.MaxQueueLength)
}
