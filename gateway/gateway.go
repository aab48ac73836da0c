// Package gateway exposes the HTTP surface of the service: subscription
// management, event streaming over SSE and WebSocket, health, and metrics.
package gateway

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/brightpath/tutorstream/cache"
	"github.com/brightpath/tutorstream/connection"
	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/health"
	"github.com/brightpath/tutorstream/metric"
	"github.com/brightpath/tutorstream/pkg/security"
	"github.com/brightpath/tutorstream/registry"
	"github.com/brightpath/tutorstream/router"
)

// Config holds gateway settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	Security     security.Config
}

// StreamStatus exposes the upstream connection state to the health handler.
// The connection manager satisfies this.
type StreamStatus interface {
	State() connection.Snapshot
}

// Gateway is the HTTP server for the event distribution service.
type Gateway struct {
	logger   *slog.Logger
	config   Config
	registry *registry.Registry
	router   *router.Router
	cache    *cache.Manager
	monitor  *health.Monitor
	stream   StreamStatus // nil when no upstream stream is configured
	hub      *streamHub

	metricsReg *metric.MetricsRegistry // optional
	metrics    *metric.Metrics

	server  *http.Server
	running atomic.Bool

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// Option configures the gateway.
type Option func(*Gateway)

// WithMetrics enables the /metrics endpoint and request metrics.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		g.metricsReg = reg
		if reg != nil {
			g.metrics = reg.CoreMetrics()
		}
	}
}

// WithStreamStatus wires the upstream connection state into /healthz.
func WithStreamStatus(s StreamStatus) Option {
	return func(g *Gateway) {
		g.stream = s
	}
}

// New creates the gateway. The router feeds the streaming endpoints; the
// registry backs subscription management.
func New(logger *slog.Logger, cfg Config, reg *registry.Registry, rt *router.Router,
	cm *cache.Manager, opts ...Option) (*Gateway, error) {
	if reg == nil || rt == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "New",
			"require registry and router")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	g := &Gateway{
		logger:   logger.With("component", "gateway"),
		config:   cfg,
		registry: reg,
		router:   rt,
		cache:    cm,
		monitor:  health.NewMonitor(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.hub = newStreamHub(g.logger, rt, g.metrics)

	mux := http.NewServeMux()
	g.registerRoutes(mux)

	g.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      g.wrap(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.Security.TLS.Enabled {
		tlsCfg, err := tlsServerConfig(cfg.Security.TLS)
		if err != nil {
			return nil, err
		}
		g.server.TLSConfig = tlsCfg
	}

	return g, nil
}

// tlsServerConfig maps the configured minimum version onto a tls.Config.
func tlsServerConfig(cfg security.TLSConfig) (*tls.Config, error) {
	minVersion := uint16(tls.VersionTLS12)
	switch cfg.MinVersion {
	case "", "1.2":
	case "1.3":
		minVersion = tls.VersionTLS13
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "New",
			"parse tls min_version")
	}
	return &tls.Config{MinVersion: minVersion}, nil
}

// registerRoutes wires all HTTP endpoints.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /subscribe", g.requireAuth(g.handleSubscribe))
	mux.HandleFunc("GET /subscribe", g.requireAuth(g.handleListSubscriptions))
	mux.HandleFunc("DELETE /subscribe/{id}", g.requireAuth(g.handleUnsubscribe))

	mux.HandleFunc("GET /events/stream", g.requireAuth(g.handleEventStream))
	mux.HandleFunc("GET /events/ws", g.requireAuth(g.handleWebSocket))
	mux.HandleFunc("GET /events/recent", g.requireAuth(g.handleRecentEvents))

	mux.HandleFunc("GET /healthz", g.handleHealth)

	if g.metricsReg != nil {
		mux.Handle("GET /metrics", g.metricsReg.Handler())
	}
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (g *Gateway) Start() error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start", "start server")
	}
	g.hub.start()

	g.logger.Info("gateway listening", "addr", g.config.Addr,
		"tls", g.config.Security.TLS.Enabled)

	var err error
	if g.config.Security.TLS.Enabled {
		err = g.server.ListenAndServeTLS(
			g.config.Security.TLS.CertFile, g.config.Security.TLS.KeyFile)
	} else {
		err = g.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Gateway", "Start", "serve")
	}
	return nil
}

// Shutdown drains connections and stops the hub.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	g.hub.stop()

	if err := g.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Shutdown", "drain connections")
	}
	return nil
}

// Handler returns the fully wrapped HTTP handler (tests drive this through
// httptest without binding a port).
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}
