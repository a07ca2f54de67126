package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/savegame")
	t.Setenv("GATEWAY_SERVICE_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5200, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, "https://sandbox.safaricom.co.ke", cfg.Mpesa.BaseURL())
	assert.False(t, cfg.Mpesa.Enabled())
	assert.False(t, cfg.AfricasTalking.Enabled())
	assert.False(t, cfg.Archive.Enabled())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GATEWAY_SERVICE_TOKEN", "secret")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadPrefixedSections(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/savegame")
	t.Setenv("GATEWAY_SERVICE_TOKEN", "secret")
	t.Setenv("MPESA_ENVIRONMENT", "production")
	t.Setenv("MPESA_CONSUMER_KEY", "key")
	t.Setenv("MPESA_CONSUMER_SECRET", "shh")
	t.Setenv("AT_API_KEY", "at-key")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Mpesa.Enabled())
	assert.Equal(t, "https://api.safaricom.co.ke", cfg.Mpesa.BaseURL())
	assert.True(t, cfg.AfricasTalking.Enabled())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins())
}

func TestLoadRejectsNonPositiveRateLimit(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/savegame")
	t.Setenv("GATEWAY_SERVICE_TOKEN", "secret")
	t.Setenv("RATE_LIMIT_MAX", "0")

	_, err := Load()
	assert.Error(t, err)
}
