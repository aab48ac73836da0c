// Package service assembles the components into one explicitly constructed
// core object. Nothing here is global: tests build a Core, exercise it, and
// Reset or discard it without cross-test bleed.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/brightpath/tutorstream/bridge"
	"github.com/brightpath/tutorstream/cache"
	"github.com/brightpath/tutorstream/config"
	"github.com/brightpath/tutorstream/connection"
	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/event"
	"github.com/brightpath/tutorstream/gateway"
	"github.com/brightpath/tutorstream/metric"
	"github.com/brightpath/tutorstream/pkg/retry"
	"github.com/brightpath/tutorstream/registry"
	"github.com/brightpath/tutorstream/router"
)

// Core owns every component of the event distribution service and their
// shared lifecycle.
type Core struct {
	cfg    *config.Config
	logger *slog.Logger

	MetricsReg *metric.MetricsRegistry
	Router     *router.Router
	Registry   *registry.Registry
	Cache      *cache.Manager
	Bridge     *bridge.Bridge
	Gateway    *gateway.Gateway
	Stream     *connection.Manager // nil unless stream.url is configured

	natsConn *nats.Conn
	consumer *bridge.Consumer

	cancel context.CancelFunc
}

// New constructs the core from configuration. No goroutines or sockets are
// created until Start.
func New(cfg *config.Config) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := buildLogger(cfg.Logging)

	c := &Core{
		cfg:    cfg,
		logger: logger,
	}

	if cfg.Metrics.Enabled {
		c.MetricsReg = metric.NewMetricsRegistry()
	}

	// Component construction is leaf-first so each dependency exists before
	// anything that consumes it.
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	routerOpts := []router.Option{
		router.WithBufferCapacity(cfg.Router.BufferCapacity),
		router.WithHealthWindow(cfg.Router.HealthWindow),
	}
	if cfg.Router.BroadcastUnscoped != nil {
		routerOpts = append(routerOpts, router.WithScope(router.ScopePolicy{
			BroadcastUnscoped: *cfg.Router.BroadcastUnscoped,
		}))
	}
	if c.MetricsReg != nil {
		routerOpts = append(routerOpts, router.WithMetrics(c.MetricsReg))
	}
	rt, err := router.New(logger, routerOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	c.Router = rt

	regOpts := []registry.RegistryOption{
		registry.WithMaxPerOwner(cfg.Registry.MaxPerOwner),
		registry.WithRequestLimit(cfg.Registry.RequestRate, cfg.Registry.RequestBurst),
		registry.WithSweepInterval(cfg.Registry.SweepInterval),
	}
	if c.MetricsReg != nil {
		regOpts = append(regOpts, registry.WithMetrics(c.MetricsReg.CoreMetrics()))
	}
	c.Registry = registry.New(ctx, logger, regOpts...)

	cacheOpts := []cache.Option{
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithStaleWindow(cfg.Cache.StaleWindow),
		cache.WithCleanupInterval(cfg.Cache.CleanupInterval),
	}
	if c.MetricsReg != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics(c.MetricsReg, "skills"))
	}
	store, err := cache.NewStore(ctx, cacheOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	c.Cache = cache.NewManager(store)

	bridgeOpts := []bridge.Option{}
	if c.MetricsReg != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithMetrics(c.MetricsReg))
	}
	c.Bridge = bridge.New(logger, bridgeOpts...)

	if cfg.Stream.URL != "" {
		dialer := &connection.HTTPDialer{URL: cfg.Stream.URL, Client: http.DefaultClient}
		streamOpts := []connection.Option{
			connection.WithRetryConfig(retry.Config{
				MaxAttempts:  cfg.Stream.MaxAttempts,
				InitialDelay: cfg.Stream.InitialDelay,
				MaxDelay:     cfg.Stream.MaxDelay,
				Multiplier:   2.0,
				AddJitter:    true,
			}),
		}
		if c.MetricsReg != nil {
			streamOpts = append(streamOpts, connection.WithMetrics(c.MetricsReg))
		}
		mgr, err := connection.New(logger, dialer, c.handleStreamMessage, streamOpts...)
		if err != nil {
			cancel()
			return nil, err
		}
		c.Stream = mgr
	}

	gwOpts := []gateway.Option{}
	if c.MetricsReg != nil {
		gwOpts = append(gwOpts, gateway.WithMetrics(c.MetricsReg))
	}
	if c.Stream != nil {
		gwOpts = append(gwOpts, gateway.WithStreamStatus(c.Stream))
	}
	gw, err := gateway.New(logger, gateway.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Security:     cfg.Security,
	}, c.Registry, c.Router, c.Cache, gwOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	c.Gateway = gw

	return c, nil
}

// Start brings the service up: broker consumer, upstream stream, and HTTP
// gateway. It blocks until the context is cancelled or a component fails.
func (c *Core) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if c.cfg.NATS.URL != "" {
		if err := c.connectBroker(gctx); err != nil {
			return err
		}
	}

	if c.Stream != nil {
		if err := c.Stream.Connect(gctx); err != nil {
			return err
		}
	}

	g.Go(func() error {
		return c.Gateway.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), c.cfg.Server.ShutdownTimeout)
		defer cancel()
		return c.Gateway.Shutdown(shutdownCtx)
	})

	c.logger.Info("service started", "addr", c.cfg.Server.Addr)
	return g.Wait()
}

// Stop tears everything down in reverse dependency order.
func (c *Core) Stop() {
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := c.Gateway.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("gateway shutdown error", "error", err)
	}

	if c.Stream != nil {
		c.Stream.Disconnect()
	}

	if c.consumer != nil {
		if err := c.consumer.Close(); err != nil {
			c.logger.Warn("consumer close error", "error", err)
		}
	}
	if c.natsConn != nil {
		c.natsConn.Close()
		c.natsConn = nil
	}

	c.Registry.Close()
	c.Cache.Store().Close()

	if c.cancel != nil {
		c.cancel()
	}

	c.logger.Info("service stopped")
}

// Reset clears all runtime state while keeping components alive. Used for
// test isolation between cases.
func (c *Core) Reset() {
	c.Router.Reset()
	c.Registry.Clear()
	c.Cache.Clear()
	c.Cache.Store().Clear()
}

// connectBroker dials NATS and starts the bridge consumer on the configured
// subjects.
func (c *Core) connectBroker(ctx context.Context) error {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.NATS.MaxReconnects),
		nats.ReconnectWait(c.cfg.NATS.ReconnectWait),
		nats.Name("tutorstream"),
	}
	if c.cfg.NATS.Token != "" {
		opts = append(opts, nats.Token(c.cfg.NATS.Token))
	}

	// The nats client only reconnects an established connection; the
	// initial dial gets its own short backoff so a broker that is still
	// coming up does not fail startup.
	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*nats.Conn, error) {
		return nats.Connect(c.cfg.NATS.URL, opts...)
	})
	if err != nil {
		return errors.WrapTransient(err, "Core", "connectBroker", "connect to broker")
	}
	c.natsConn = conn

	consumer, err := bridge.NewConsumer(c.logger, conn, c.Bridge, c.Router)
	if err != nil {
		return err
	}
	c.consumer = consumer

	for _, subject := range c.cfg.NATS.Subjects {
		if err := consumer.Subscribe(ctx, subject); err != nil {
			return err
		}
	}
	return nil
}

// handleStreamMessage feeds upstream SSE frames into the router. Frames on
// the stream carry the canonical event shape already, so decode goes
// straight to the internal type.
func (c *Core) handleStreamMessage(msg connection.Message) {
	var ev event.Event
	if err := ev.UnmarshalJSON([]byte(msg.Data)); err != nil {
		c.logger.Debug("dropped undecodable stream frame", "error", err)
		return
	}

	if err := c.Router.Publish(&ev); err != nil {
		c.logger.Debug("dropped invalid stream event", "event_id", ev.ID, "error", err)
	}
}

// buildLogger constructs the process logger from config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
