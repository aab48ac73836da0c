// Package config loads and validates the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/pkg/security"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	NATS     NATSConfig      `yaml:"nats"`
	Stream   StreamConfig    `yaml:"stream"`
	Router   RouterConfig    `yaml:"router"`
	Registry RegistryConfig  `yaml:"registry"`
	Cache    CacheConfig     `yaml:"cache"`
	Security security.Config `yaml:"security"`
	Logging  LoggingConfig   `yaml:"logging"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// NATSConfig configures the broker connection feeding the bridge.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subjects      []string      `yaml:"subjects"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Token         string        `yaml:"token"`
}

// StreamConfig configures the upstream SSE connection.
type StreamConfig struct {
	// URL of the upstream event stream. Empty disables the stream client
	// (events then arrive via the broker only).
	URL          string        `yaml:"url"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// RouterConfig configures the event router.
type RouterConfig struct {
	BufferCapacity    int           `yaml:"buffer_capacity"`
	HealthWindow      time.Duration `yaml:"health_window"`
	BroadcastUnscoped *bool         `yaml:"broadcast_unscoped"`
}

// RegistryConfig configures the subscription registry.
type RegistryConfig struct {
	MaxPerOwner   int           `yaml:"max_per_owner"`
	RequestRate   float64       `yaml:"request_rate"`
	RequestBurst  int           `yaml:"request_burst"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
}

// CacheConfig configures the skill result cache.
type CacheConfig struct {
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	StaleWindow     time.Duration `yaml:"stale_window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// MetricsConfig configures Prometheus exposure.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration with production defaults. Loaded files
// override only the fields they set.
func Default() *Config {
	broadcast := true
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // streaming endpoints must not be cut off
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Subjects:      []string{"tutoring.events.>"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Stream: StreamConfig{
			MaxAttempts:  10,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		Router: RouterConfig{
			BufferCapacity:    20,
			HealthWindow:      60 * time.Second,
			BroadcastUnscoped: &broadcast,
		},
		Registry: RegistryConfig{
			MaxPerOwner:   100,
			RequestRate:   10,
			RequestBurst:  20,
			SweepInterval: 30 * time.Second,
			DefaultTTL:    time.Hour,
		},
		Cache: CacheConfig{
			DefaultTTL:      5 * time.Minute,
			StaleWindow:     30 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		return nil, errors.Wrap(err, "Config", "Load", "read config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		problems = append(problems, "server.max_body_bytes must be positive")
	}
	if c.NATS.URL == "" && c.Stream.URL == "" {
		problems = append(problems, "at least one of nats.url or stream.url is required")
	}
	if c.Stream.MaxAttempts < 1 {
		problems = append(problems, "stream.max_attempts must be at least 1")
	}
	if c.Stream.MaxDelay < c.Stream.InitialDelay {
		problems = append(problems, "stream.max_delay must be >= stream.initial_delay")
	}
	if c.Router.BufferCapacity < 1 {
		problems = append(problems, "router.buffer_capacity must be at least 1")
	}
	if c.Router.HealthWindow <= 0 {
		problems = append(problems, "router.health_window must be positive")
	}
	if c.Registry.MaxPerOwner < 1 {
		problems = append(problems, "registry.max_per_owner must be at least 1")
	}
	if c.Cache.StaleWindow < 0 {
		problems = append(problems, "cache.stale_window cannot be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not recognized", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not recognized", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, problems),
			"Config", "Validate", "check configuration")
	}
	return nil
}
