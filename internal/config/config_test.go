package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_USER", "camp")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "camp")
	t.Setenv("JWT_SECRET", "s3cret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "camp.jobs", cfg.JobQueue)
	assert.Equal(t, 5, cfg.JobMaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 45*time.Second, cfg.ConfirmTxTimeout)
	assert.Equal(t, 20*time.Second, cfg.SpreadsheetTxTimeout)
	assert.Equal(t, "@every 5m", cfg.SweepSchedule)
	assert.Equal(t, "0 3 * * *", cfg.DraftCleanupSchedule)
	assert.Equal(t, "minio", cfg.StorageDriver)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("AMQP_URL", "amqp://fallback/")
	t.Setenv("PARTICIPANT_FEE", "250000")
	t.Setenv("JOB_BACKOFF", "500ms")
	t.Setenv("S3_USE_SSL", "yes")
	t.Setenv("JOB_MAX_ATTEMPTS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "amqp://fallback/", cfg.RabbitURL)
	assert.EqualValues(t, 250000, cfg.ParticipantFee)
	assert.Equal(t, 500*time.Millisecond, cfg.JobBackoff)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, 5, cfg.JobMaxAttempts)
}

func TestRateLimitShorthands(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	cfg := LoadRateLimitConfig()
	assert.Equal(t, 5, cfg.Capacity)
	assert.Equal(t, 1, cfg.RefillTokens)
	assert.Equal(t, 2*time.Second, cfg.RefillInterval)
	assert.Equal(t, 10*time.Second, cfg.TTL)
}

func TestCacheMethods(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head ,")
	cfg := LoadCacheConfig()
	assert.Equal(t, map[string]bool{"GET": true, "HEAD": true}, cfg.Methods)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("prod", "warn", &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	require.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}
