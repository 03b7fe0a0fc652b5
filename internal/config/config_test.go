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

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5, cfg.MaxSpawnDepth)
	assert.Equal(t, 10, cfg.TrustThreshold)
	assert.Equal(t, time.Duration(0), cfg.PatternExpiry)
	assert.Equal(t, 5*time.Minute, cfg.ExecutionTimeout)
	assert.Equal(t, "auto", cfg.RunnerProvider)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestBodyBytes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BALEY_PORT", "9999")
	t.Setenv("BALEY_MAX_SPAWN_DEPTH", "3")
	t.Setenv("BALEY_PATTERN_EXPIRY", "48h")
	t.Setenv("BALEY_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 3, cfg.MaxSpawnDepth)
	assert.Equal(t, 48*time.Hour, cfg.PatternExpiry)
	assert.False(t, cfg.RateLimitEnabled)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("BALEY_PORT", "not-a-number")
	t.Setenv("BALEY_JWT_EXPIRATION", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.DatabaseURL = ""
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg = base()
	cfg.MaxSpawnDepth = 0
	assert.ErrorContains(t, cfg.Validate(), "BALEY_MAX_SPAWN_DEPTH")

	cfg = base()
	cfg.TrustThreshold = 0
	assert.ErrorContains(t, cfg.Validate(), "BALEY_TRUST_THRESHOLD")

	cfg = base()
	cfg.ExecutionTimeout = 0
	assert.ErrorContains(t, cfg.Validate(), "BALEY_EXECUTION_TIMEOUT")

	cfg = base()
	cfg.MaxRequestBodyBytes = 0
	assert.ErrorContains(t, cfg.Validate(), "BALEY_MAX_REQUEST_BODY_BYTES")
}
