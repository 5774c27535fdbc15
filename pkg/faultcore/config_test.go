package faultcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-faultcore/internal/testutil"
	"github.com/StricklySoft/stricklysoft-faultcore/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/config"
	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

func noEnv(string) (string, bool) { return "", false }

// ===========================================================================
// Defaults
// ===========================================================================

func TestDefaultConfig_MatchesTagDefaults(t *testing.T) {
	t.Parallel()
	var loaded Config
	require.NoError(t, config.New().WithLookup(noEnv).Load(&loaded))
	assert.Equal(t, DefaultConfig(), loaded)
}

func TestDefaultConfig_Values(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2, cfg.Fallback.AttemptsPerStrategy)
	assert.Equal(t, 50*time.Millisecond, cfg.Handoff.LatencyTarget)
	assert.Equal(t, 4, cfg.Handoff.PreserveConcurrency)
	assert.Equal(t, 256, cfg.Handoff.MaxRegions)
	assert.Equal(t, BackendMemory, cfg.Postmortem.Backend)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "faultcore", cfg.Metrics.Namespace)
}

// ===========================================================================
// Loading
// ===========================================================================

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := testutil.TempConfigFile(t, fixtures.TestConfigYAML, ".yaml")
	testutil.SetEnv(t, fixtures.TestEnvPrefix+"_RETRY_MAX_DELAY", "250ms")
	testutil.SetEnv(t, fixtures.TestEnvPrefix+"_POSTMORTEM_REDIS_PASSWORD", "s3cret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.MaxDelay)
	assert.Equal(t, 20*time.Millisecond, cfg.Handoff.LatencyTarget)
	assert.Equal(t, BackendMemory, cfg.Postmortem.Backend)
	assert.Equal(t, "s3cret", cfg.Postmortem.Redis.Password.Value())
}

func TestLoadConfig_JSON(t *testing.T) {
	path := testutil.TempConfigFile(t, fixtures.TestConfigJSON, ".json")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	testutil.SetEnv(t, "FAULTCORE_POSTMORTEM_BACKEND", "tape")
	_, err := LoadConfig("")
	testutil.RequireErrorCode(t, err, kerr.CodeInvalidParam)
}

// ===========================================================================
// Validation
// ===========================================================================

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"negative base delay", func(c *Config) { c.Retry.BaseDelay = -time.Millisecond }},
		{"zero fallback attempts", func(c *Config) { c.Fallback.AttemptsPerStrategy = 0 }},
		{"negative latency target", func(c *Config) { c.Handoff.LatencyTarget = -1 }},
		{"negative concurrency", func(c *Config) { c.Handoff.PreserveConcurrency = -1 }},
		{"unknown backend", func(c *Config) { c.Postmortem.Backend = "tape" }},
		{"redis bad uri", func(c *Config) {
			c.Postmortem.Backend = BackendRedis
			c.Postmortem.Redis.URI = "http://localhost"
		}},
		{"minio without endpoint", func(c *Config) { c.Postmortem.Backend = BackendMinIO }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			testutil.RequireErrorCode(t, cfg.Validate(), kerr.CodeInvalidParam)
		})
	}
}

func TestConfig_Validate_Backends(t *testing.T) {
	t.Parallel()
	for _, backend := range []string{BackendNone, BackendMemory, BackendRedis} {
		cfg := DefaultConfig()
		cfg.Postmortem.Backend = backend
		assert.NoError(t, cfg.Validate(), backend)
	}

	cfg := DefaultConfig()
	cfg.Postmortem.Backend = BackendMinIO
	cfg.Postmortem.MinIO.Endpoint = "localhost:9000"
	cfg.Postmortem.MinIO.AccessKey = "ak"
	cfg.Postmortem.MinIO.SecretKey = "sk"
	assert.NoError(t, cfg.Validate())
}

func TestRetryConfig_Policy(t *testing.T) {
	t.Parallel()
	p := RetryConfig{MaxAttempts: 4, BaseDelay: 2 * time.Millisecond, MaxDelay: time.Second}.Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 2*time.Millisecond, p.Delay(0))
	assert.Equal(t, 4*time.Millisecond, p.Delay(1))
}
