package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"APP_ENV", "LOG_LEVEL", "HTTP_ADDR", "DATABASE_URL", "JWT_SECRET",
		"CORS_ALLOWED_ORIGINS", "CORS_ALLOW_CREDENTIALS",
		"NUDGE_QUEUE_URL", "NUDGE_QUEUE_NAME", "NUDGE_WORKER_CONCURRENCY",
		"NUDGE_MAX_ATTEMPTS", "NUDGE_BACKOFF_BASE", "NUDGE_RETENTION",
		"NUDGE_SENDER_URL", "NUDGE_SENDER_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.QueueURL)
	assert.Equal(t, "notifications", cfg.Queue.Name)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 7*24*time.Hour, cfg.Queue.Retention)
	assert.Nil(t, cfg.CORSAllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUDGE_QUEUE_URL", "redis://localhost:6379/0")
	t.Setenv("NUDGE_WORKER_CONCURRENCY", "12")
	t.Setenv("NUDGE_BACKOFF_BASE", "1m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", cfg.QueueURL)
	assert.Equal(t, 12, cfg.Queue.Concurrency)
	assert.Equal(t, time.Minute, cfg.Queue.BackoffBase)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.CORSAllowCredentials)
}

func TestLoadInvalid(t *testing.T) {
	for key, val := range map[string]string{
		"NUDGE_WORKER_CONCURRENCY": "many",
		"NUDGE_MAX_ATTEMPTS":       "0",
		"NUDGE_BACKOFF_BASE":       "30",
		"NUDGE_RETENTION":          "-1h",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestRequire(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://x"}
	assert.NoError(t, cfg.Require("DATABASE_URL"))
	assert.EqualError(t, cfg.Require("DATABASE_URL", "JWT_SECRET"), "missing env: JWT_SECRET")
}
