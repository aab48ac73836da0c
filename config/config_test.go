package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/tutorstream/errors"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Zero(t, cfg.Server.WriteTimeout, "streaming responses must not be cut off by a write timeout")
	assert.Equal(t, 20, cfg.Router.BufferCapacity)
	assert.Equal(t, 60*time.Second, cfg.Router.HealthWindow)
	require.NotNil(t, cfg.Router.BroadcastUnscoped)
	assert.True(t, *cfg.Router.BroadcastUnscoped)
	assert.Equal(t, 100, cfg.Registry.MaxPerOwner)
	assert.Equal(t, 10, cfg.Stream.MaxAttempts)
	assert.Equal(t, []string{"tutoring.events.>"}, cfg.NATS.Subjects)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
router:
  buffer_capacity: 50
  broadcast_unscoped: false
registry:
  max_per_owner: 5
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Router.BufferCapacity)
	require.NotNil(t, cfg.Router.BroadcastUnscoped)
	assert.False(t, *cfg.Router.BroadcastUnscoped, "an explicit false must survive the defaults")
	assert.Equal(t, 5, cfg.Registry.MaxPerOwner)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Router.HealthWindow)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"non-positive body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{"no event source", func(c *Config) { c.NATS.URL = ""; c.Stream.URL = "" }},
		{"zero retry attempts", func(c *Config) { c.Stream.MaxAttempts = 0 }},
		{"max delay below initial", func(c *Config) {
			c.Stream.InitialDelay = time.Minute
			c.Stream.MaxDelay = time.Second
		}},
		{"zero buffer capacity", func(c *Config) { c.Router.BufferCapacity = 0 }},
		{"zero health window", func(c *Config) { c.Router.HealthWindow = 0 }},
		{"zero owner cap", func(c *Config) { c.Registry.MaxPerOwner = 0 }},
		{"negative stale window", func(c *Config) { c.Cache.StaleWindow = -time.Second }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}
