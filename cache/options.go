package cache

import (
	"time"

	"github.com/brightpath/tutorstream/metric"
)

// Option configures store behavior using the functional options pattern.
type Option func(*cacheOptions)

// cacheOptions holds internal configuration for store instances.
// Stats are always collected; metrics are optional via WithMetrics().
type cacheOptions struct {
	defaultTTL      time.Duration
	staleWindow     time.Duration
	cleanupInterval time.Duration
	evictCallback   EvictCallback

	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithDefaultTTL sets the TTL applied when Set is called with a zero ttl.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(opts *cacheOptions) {
		if ttl > 0 {
			opts.defaultTTL = ttl
		}
	}
}

// WithStaleWindow sets how long past its TTL an entry remains servable
// before Clean removes it.
func WithStaleWindow(window time.Duration) Option {
	return func(opts *cacheOptions) {
		if window > 0 {
			opts.staleWindow = window
		}
	}
}

// WithCleanupInterval sets how often the background sweeper runs.
func WithCleanupInterval(interval time.Duration) Option {
	return func(opts *cacheOptions) {
		if interval > 0 {
			opts.cleanupInterval = interval
		}
	}
}

// WithEvictionCallback sets a callback invoked with each removed entry.
func WithEvictionCallback(callback EvictCallback) Option {
	return func(opts *cacheOptions) {
		opts.evictCallback = callback
	}
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *cacheOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// applyOptions applies functional options to create final store configuration.
func applyOptions(options ...Option) *cacheOptions {
	opts := &cacheOptions{
		defaultTTL:      5 * time.Minute,
		staleWindow:     30 * time.Minute,
		cleanupInterval: time.Minute,
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
