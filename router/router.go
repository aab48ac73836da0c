// Package router implements the in-process pub/sub hub: it receives
// validated events, applies per-listener filters, and fans out synchronously
// to registered listeners while maintaining a bounded recent-event buffer.
package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/event"
	"github.com/brightpath/tutorstream/metric"
	"github.com/brightpath/tutorstream/pkg/buffer"
	"github.com/brightpath/tutorstream/pkg/clock"
)

// DefaultBufferCapacity bounds the recent-event window kept for late-joining
// consumers and health introspection.
const DefaultBufferCapacity = 20

// DefaultHealthWindow is the rolling window within which at least one event
// must have arrived for the router to report healthy.
const DefaultHealthWindow = 60 * time.Second

// Token is an opaque handle returned by Subscribe and redeemed via
// Unsubscribe.
type Token uint64

// Listener is a subscriber callback. Listeners run synchronously on the
// publishing goroutine, in registration order; a panicking listener is
// isolated and does not prevent delivery to subsequent listeners.
type Listener func(ev *event.Event)

// SubscribeOptions filter which events reach a listener. Empty sets match
// everything.
type SubscribeOptions struct {
	Topics     []string
	Priorities []event.Priority
}

// ScopePolicy controls per-student data isolation during fan-out.
type ScopePolicy struct {
	// StudentID, when non-empty, restricts delivery to events owned by that
	// student.
	StudentID string

	// BroadcastUnscoped controls whether events carrying no studentId pass
	// the scope clause. The upstream contract treats such events as
	// platform-wide notices, so this defaults to true.
	BroadcastUnscoped bool
}

// Health is the router's diagnostic snapshot.
type Health struct {
	IsHealthy     bool      `json:"isHealthy"`
	EventCount    uint64    `json:"eventCount"`
	LastEventTime time.Time `json:"lastEventTime"`
}

// listenerEntry pairs a listener with its filters in the arena.
type listenerEntry struct {
	token      Token
	topics     map[string]struct{}
	priorities map[event.Priority]struct{}
	fn         Listener
}

// Router is the event hub. All mutation goes through the defined contract;
// no component outside the router touches the buffer directly.
type Router struct {
	logger *slog.Logger
	clk    clock.Clock

	healthWindow time.Duration

	mu         sync.RWMutex
	listeners  []*listenerEntry // registration order
	byToken    map[Token]*listenerEntry
	nextToken  Token
	scope      ScopePolicy
	eventCount uint64
	lastEvent  time.Time

	buf buffer.Buffer[*event.Event]

	metrics *metric.Metrics // optional
}

// Option configures the router.
type Option func(*routerOptions)

type routerOptions struct {
	capacity     int
	healthWindow time.Duration
	clk          clock.Clock
	metricsReg   *metric.MetricsRegistry
	scope        ScopePolicy
}

// WithBufferCapacity overrides the recent-event buffer capacity.
func WithBufferCapacity(capacity int) Option {
	return func(o *routerOptions) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}

// WithHealthWindow overrides the rolling health window.
func WithHealthWindow(window time.Duration) Option {
	return func(o *routerOptions) {
		if window > 0 {
			o.healthWindow = window
		}
	}
}

// WithClock injects a time source (tests use a fake).
func WithClock(clk clock.Clock) Option {
	return func(o *routerOptions) {
		if clk != nil {
			o.clk = clk
		}
	}
}

// WithMetrics enables Prometheus metrics for the router and its buffer.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(o *routerOptions) {
		o.metricsReg = reg
	}
}

// WithScope sets the initial owner scope policy.
func WithScope(scope ScopePolicy) Option {
	return func(o *routerOptions) {
		o.scope = scope
	}
}

// New creates an event router.
func New(logger *slog.Logger, opts ...Option) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}

	options := &routerOptions{
		capacity:     DefaultBufferCapacity,
		healthWindow: DefaultHealthWindow,
		clk:          clock.New(),
		scope:        ScopePolicy{BroadcastUnscoped: true},
	}
	for _, opt := range opts {
		opt(options)
	}

	bufOpts := []buffer.Option[*event.Event]{
		buffer.WithOverflowPolicy[*event.Event](buffer.DropOldest),
	}
	if options.metricsReg != nil {
		bufOpts = append(bufOpts, buffer.WithMetrics[*event.Event](options.metricsReg, "router"))
	}

	buf, err := buffer.NewRing(options.capacity, bufOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Router", "New", "create event buffer")
	}

	r := &Router{
		logger:       logger.With("component", "router"),
		clk:          options.clk,
		healthWindow: options.healthWindow,
		byToken:      make(map[Token]*listenerEntry),
		scope:        options.scope,
		buf:          buf,
	}
	if options.metricsReg != nil {
		r.metrics = options.metricsReg.CoreMetrics()
	}

	return r, nil
}

// Subscribe registers a listener and returns a token redeemable via
// Unsubscribe. Listeners are invoked in registration order.
func (r *Router) Subscribe(opts SubscribeOptions, fn Listener) Token {
	entry := &listenerEntry{
		fn: fn,
	}
	if len(opts.Topics) > 0 {
		entry.topics = make(map[string]struct{}, len(opts.Topics))
		for _, t := range opts.Topics {
			entry.topics[t] = struct{}{}
		}
	}
	if len(opts.Priorities) > 0 {
		entry.priorities = make(map[event.Priority]struct{}, len(opts.Priorities))
		for _, p := range opts.Priorities {
			entry.priorities[p] = struct{}{}
		}
	}

	r.mu.Lock()
	r.nextToken++
	entry.token = r.nextToken
	r.listeners = append(r.listeners, entry)
	r.byToken[entry.token] = entry
	r.mu.Unlock()

	return entry.token
}

// Unsubscribe removes a listener. Safe to call at any time, including from
// within a listener invoked during Publish: the in-flight publish cycle
// iterates over a snapshot and simply skips the removed entry.
func (r *Router) Unsubscribe(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byToken[token]
	if !ok {
		return false
	}
	delete(r.byToken, token)

	for i, l := range r.listeners {
		if l == entry {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			break
		}
	}
	return true
}

// Publish validates the event, appends it to the bounded buffer (evicting
// the oldest on overflow), and synchronously invokes every matching
// listener. Malformed events are rejected before any counter moves.
func (r *Router) Publish(ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		if r.metrics != nil {
			r.metrics.RecordEventRejected("router", "malformed")
		}
		return err
	}

	start := r.clk.Now()

	r.mu.Lock()
	r.eventCount++
	r.lastEvent = start
	scope := r.scope
	snapshot := make([]*listenerEntry, len(r.listeners))
	copy(snapshot, r.listeners)
	r.mu.Unlock()

	// Buffer write is outside the listener loop so late joiners see the
	// event even if every listener filter misses.
	_ = r.buf.Write(ev)

	if r.metrics != nil {
		r.metrics.RecordEventPublished("router", ev.Topic)
	}

	for _, entry := range snapshot {
		if !r.stillRegistered(entry) {
			continue
		}
		if !r.matches(entry, ev, scope) {
			continue
		}
		r.deliver(entry, ev)
	}

	if r.metrics != nil {
		r.metrics.RecordPublishDuration("router", r.clk.Now().Sub(start))
	}

	return nil
}

// deliver invokes one listener, isolating panics so a throwing listener
// cannot prevent delivery to subsequent listeners.
func (r *Router) deliver(entry *listenerEntry, ev *event.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked during delivery",
				"event_id", ev.ID,
				"topic", ev.Topic,
				"panic", rec)
		}
	}()

	entry.fn(ev)

	if r.metrics != nil {
		r.metrics.RecordEventDelivered("router", ev.Topic)
	}
}

// stillRegistered checks whether an entry survived mid-publish unsubscribes.
func (r *Router) stillRegistered(entry *listenerEntry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byToken[entry.token]
	return ok
}

// matches evaluates the delivery clauses: topic set, priority set, and the
// owner scope. Events without a studentId pass the scope clause when the
// broadcast policy allows it.
func (r *Router) matches(entry *listenerEntry, ev *event.Event, scope ScopePolicy) bool {
	if entry.topics != nil {
		if _, ok := entry.topics[ev.Topic]; !ok {
			return false
		}
	}

	if entry.priorities != nil {
		if _, ok := entry.priorities[ev.Priority]; !ok {
			return false
		}
	}

	if scope.StudentID != "" {
		studentID, ok := ev.StudentID()
		if ok {
			if studentID != scope.StudentID {
				return false
			}
		} else if !scope.BroadcastUnscoped {
			return false
		}
	}

	return true
}

// SetScope activates an owner scope for subsequent publishes.
func (r *Router) SetScope(scope ScopePolicy) {
	r.mu.Lock()
	r.scope = scope
	r.mu.Unlock()
}

// Scope returns the active scope policy.
func (r *Router) Scope() ScopePolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scope
}

// ClearScope removes the owner scope, retaining the broadcast policy.
func (r *Router) ClearScope() {
	r.mu.Lock()
	r.scope.StudentID = ""
	r.mu.Unlock()
}

// Events returns the buffered events in oldest-to-newest order.
func (r *Router) Events() []*event.Event {
	return r.buf.Snapshot()
}

// EventsByTopic returns buffered events for one topic, oldest first.
func (r *Router) EventsByTopic(topic string) []*event.Event {
	var result []*event.Event
	for _, ev := range r.buf.Snapshot() {
		if ev.Topic == topic {
			result = append(result, ev)
		}
	}
	return result
}

// EventsByPriority returns buffered events at one priority, oldest first.
func (r *Router) EventsByPriority(p event.Priority) []*event.Event {
	var result []*event.Event
	for _, ev := range r.buf.Snapshot() {
		if ev.Priority == p {
			result = append(result, ev)
		}
	}
	return result
}

// EventCount returns the number of events accepted since creation (or the
// last Reset). Rejected events are never counted.
func (r *Router) EventCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.eventCount
}

// ListenerCount returns the number of registered listeners.
func (r *Router) ListenerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// GetConnectionHealth reports whether the router has received at least one
// event within the rolling health window. Zero events ever received, or a
// most recent event older than the window, yields IsHealthy=false even when
// the upstream connection is nominally established.
func (r *Router) GetConnectionHealth() Health {
	r.mu.RLock()
	count := r.eventCount
	last := r.lastEvent
	r.mu.RUnlock()

	healthy := count > 0 && r.clk.Now().Sub(last) <= r.healthWindow

	if r.metrics != nil {
		r.metrics.RecordHealthStatus("router", healthy)
	}

	return Health{
		IsHealthy:     healthy,
		EventCount:    count,
		LastEventTime: last,
	}
}

// Reset clears the buffer, counters, and listeners (test isolation).
func (r *Router) Reset() {
	r.mu.Lock()
	r.listeners = nil
	r.byToken = make(map[Token]*listenerEntry)
	r.eventCount = 0
	r.lastEvent = time.Time{}
	r.mu.Unlock()

	r.buf.Clear()
}
