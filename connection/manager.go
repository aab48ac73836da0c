// Package connection manages the long-lived upstream event stream: a single
// server-sent events connection with an explicit lifecycle state machine and
// capped exponential backoff on failure.
package connection

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/metric"
	"github.com/brightpath/tutorstream/pkg/clock"
	"github.com/brightpath/tutorstream/pkg/retry"
)

// Handler receives each parsed stream frame. It runs on the manager's read
// goroutine, so it must not block for long.
type Handler func(msg Message)

// Manager owns the single upstream stream connection. It dials through an
// injected Dialer, consumes frames, and on failure schedules reconnection
// with capped exponential backoff. After the attempt budget is exhausted it
// parks in StateError until told otherwise.
type Manager struct {
	logger   *slog.Logger
	clk      clock.Clock
	dialer   Dialer
	handler  Handler
	retryCfg retry.Config

	mu          sync.Mutex
	state       State
	attempts    int
	lastEventAt time.Time
	lastEventID string
	lastErr     error
	runCtx      context.Context    // context the run loop was started with
	cancel      context.CancelFunc // top-level run loop cancel
	streamStop  context.CancelFunc // per-dial cancel, forces redial
	kick        chan struct{}      // wakes a pending backoff timer
	done        chan struct{}      // closed when the run loop exits

	metrics *metric.Metrics // optional
}

// Option configures the manager.
type Option func(*Manager)

// WithClock injects a time source (tests use a fake).
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		if clk != nil {
			m.clk = clk
		}
	}
}

// WithRetryConfig overrides the reconnect backoff policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(m *Manager) {
		m.retryCfg = cfg
	}
}

// WithMetrics enables Prometheus metrics for the stream connection.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.metrics = reg.CoreMetrics()
		}
	}
}

// New creates a connection manager. The handler is invoked for every frame
// received on the stream.
func New(logger *slog.Logger, dialer Dialer, handler Handler, opts ...Option) (*Manager, error) {
	if dialer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "New", "require dialer")
	}
	if handler == nil {
		handler = func(Message) {}
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		logger:   logger.With("component", "connection"),
		clk:      clock.New(),
		dialer:   dialer,
		handler:  handler,
		retryCfg: retry.Stream(),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Connect starts the stream. Calling Connect while already running is a
// no-op, never a second connection. On a manager parked in StateError it
// starts a fresh run loop with the full retry budget.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		select {
		case <-m.done:
			// The run loop exited on exhaustion or a terminal error.
			// Release its context and start over.
			m.cancel()
		default:
			return nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.kick = make(chan struct{}, 1)
	m.done = make(chan struct{})
	m.attempts = 0
	m.lastErr = nil
	m.state = StateConnecting

	go m.run(runCtx, m.done, m.kick)
	return nil
}

// Disconnect stops the stream, cancels any pending backoff timer, and
// resets the reconnect attempt counter. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	m.state = StateDisconnected
	m.attempts = 0
	m.lastErr = nil
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordStreamConnected(false)
	}
}

// Reconnect forces an immediate redial: it drops the current stream (or
// skips a pending backoff wait) and resets the attempt counter so the full
// retry budget is available again. On a manager whose run loop already
// exited, exhausted or terminally failed, it restarts the loop. No-op when
// never connected.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return
	}
	m.attempts = 0
	m.lastErr = nil

	select {
	case <-m.done:
		m.done = make(chan struct{})
		m.kick = make(chan struct{}, 1)
		m.state = StateConnecting
		go m.run(m.runCtx, m.done, m.kick)
		return
	default:
	}

	if m.streamStop != nil {
		m.streamStop()
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// State returns a snapshot of the connection state.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		State:             m.state,
		ReconnectAttempts: m.attempts,
		LastEventAt:       m.lastEventAt,
		LastError:         m.lastErr,
	}
}

// run is the connection loop: dial, consume, classify the failure, back
// off, repeat. It exits on context cancellation, a non-retryable failure,
// or attempt exhaustion. done and kick belong to this loop instance;
// Reconnect replaces them when it restarts an exited loop.
func (m *Manager) run(ctx context.Context, done, kick chan struct{}) {
	defer close(done)

	for {
		m.setState(StateConnecting, nil)

		err := m.dialAndConsume(ctx)

		if ctx.Err() != nil {
			return
		}

		if errors.IsUnauthorized(err) || errors.IsInvalid(err) || errors.IsFatal(err) {
			m.logger.Error("stream failed with non-retryable error", "error", err)
			m.setState(StateError, err)
			return
		}

		m.mu.Lock()
		m.attempts++
		attempt := m.attempts
		exhausted := attempt >= m.retryCfg.MaxAttempts
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordStreamConnected(false)
		}

		if exhausted {
			m.logger.Error("reconnect attempts exhausted",
				"attempts", attempt,
				"error", err)
			m.setState(StateError, errors.WrapTransient(
				errors.ErrRetriesExhausted, "Manager", "run", "reconnect stream"))
			return
		}

		delay := m.retryCfg.Jittered(attempt)
		m.logger.Warn("stream dropped, scheduling reconnect",
			"attempt", attempt,
			"delay", delay,
			"error", err)
		m.setState(StateReconnecting, err)
		if m.metrics != nil {
			m.metrics.RecordStreamReconnect()
		}

		timer := m.clk.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-kick:
			timer.Stop()
		case <-timer.C():
		}
	}
}

// dialAndConsume opens one stream and reads it to completion. A stream that
// ends cleanly is still treated as a failure upstream of this method, since
// the event stream is expected to be endless.
func (m *Manager) dialAndConsume(ctx context.Context) error {
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	m.mu.Lock()
	m.streamStop = stop
	lastID := m.lastEventID
	m.mu.Unlock()

	stream, err := m.dialer.Dial(streamCtx, lastID)
	if err != nil {
		return err
	}
	defer stream.Close()

	// A blocked read only returns once the stream is closed; the dialer's
	// reader is not required to honor the context itself.
	go func() {
		<-streamCtx.Done()
		stream.Close()
	}()

	m.setState(StateConnected, nil)
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordStreamConnected(true)
	}
	m.logger.Info("stream connected", "last_event_id", lastID)

	err = parseStream(stream, m.onMessage)
	if err != nil {
		return err
	}
	return errors.WrapTransient(io.ErrUnexpectedEOF, "Manager", "dialAndConsume", "stream ended")
}

func (m *Manager) onMessage(msg Message) {
	m.mu.Lock()
	m.lastEventAt = m.clk.Now()
	if msg.ID != "" {
		m.lastEventID = msg.ID
	}
	m.mu.Unlock()

	m.handler(msg)
}

func (m *Manager) setState(s State, err error) {
	m.mu.Lock()
	m.state = s
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
}
