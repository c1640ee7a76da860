package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "local", cfg.RelayBackend)
	assert.Equal(t, 60, cfg.MessagesPerMinute)
	assert.Equal(t, 3*time.Second, cfg.TypingTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RateLimitSweepInterval)
	assert.False(t, cfg.RelayRequired)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
	assert.True(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("RELAY_BACKEND", "redis")
	t.Setenv("MESSAGES_PER_MINUTE", "5")
	t.Setenv("TYPING_TIMEOUT", "1500")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PROPERTY_API_URL", "http://props.local/api/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "redis", cfg.RelayBackend)
	assert.Equal(t, 5, cfg.MessagesPerMinute)
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "http://props.local/api", cfg.PropertyAPIURL)
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("RATE_LIMIT_BACKEND", "memcached")
	_, err = Load()
	assert.Error(t, err)
}
