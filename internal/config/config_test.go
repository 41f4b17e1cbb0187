package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "template", cfg.LLMProvider)
	assert.Equal(t, 5, cfg.Scheduled.Duration)
	assert.Equal(t, 10, cfg.Scheduled.MessageFrequency)
	assert.Equal(t, 20, cfg.Scheduled.MaxMessages)
	assert.Equal(t, "casual", cfg.Scheduled.Style)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", StoreSQLite)
	t.Setenv("SCHEDULED_DEFAULT_DURATION", "12")
	t.Setenv("SCHEDULED_MAX_ACTIVE", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("TRACING_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, 12, cfg.Scheduled.Duration)
	assert.Equal(t, 3, cfg.Scheduled.MaxActive)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SCHEDULED_DEFAULT_MAX_MESSAGES", "lots")
	t.Setenv("TRACING_ENABLED", "maybe")
	t.Setenv("SERVER_READ_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 20, cfg.Scheduled.MaxMessages)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, 30*time.Second, cfg.ServerReadTimeout)
}

func TestLoadCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://dash.example.com, ,http://localhost:3000")

	cfg := Load()

	assert.Equal(t, []string{"https://dash.example.com", "http://localhost:3000"}, cfg.CORSAllowedOrigins)
}
