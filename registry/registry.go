// Package registry tracks which client sessions are interested in which
// topics, with per-owner caps, request rate limits, and TTL expiry.
//
// The registry is a security boundary: topic names and student identifiers
// are validated against restrictive charsets before insertion, and a
// subscription is never stored without an authenticated principal.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/event"
	"github.com/brightpath/tutorstream/metric"
)

// Defaults for registry limits.
const (
	DefaultMaxPerOwner   = 100
	DefaultRequestRate   = 10 // subscription requests per second per owner
	DefaultRequestBurst  = 20
	DefaultSweepInterval = 30 * time.Second
)

// Request describes a subscription to create. Principal is the authenticated
// identity from the bearer token; an empty principal is rejected before any
// state changes.
type Request struct {
	Principal string
	OwnerID   string
	Topics    []string
	Filters   []Filter
	Metadata  map[string]string
	TTL       time.Duration
}

// Registry is the in-memory subscription store.
type Registry struct {
	logger *slog.Logger

	maxPerOwner  int
	requestRate  rate.Limit
	requestBurst int

	mu       sync.RWMutex
	subs     map[string]Subscription        // id -> subscription
	byOwner  map[string]map[string]struct{} // owner -> set of ids
	limiters map[string]*rate.Limiter       // owner -> request limiter

	metrics *metric.Metrics // optional

	sweepInterval time.Duration
	shutdown      chan struct{}
	done          chan struct{}
	sweepOnce     sync.Once
}

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

// WithMaxPerOwner overrides the per-owner subscription cap.
func WithMaxPerOwner(max int) RegistryOption {
	return func(r *Registry) {
		if max > 0 {
			r.maxPerOwner = max
		}
	}
}

// WithRequestLimit overrides the per-owner request rate and burst.
func WithRequestLimit(perSecond float64, burst int) RegistryOption {
	return func(r *Registry) {
		if perSecond > 0 && burst > 0 {
			r.requestRate = rate.Limit(perSecond)
			r.requestBurst = burst
		}
	}
}

// WithSweepInterval overrides how often expired subscriptions are removed.
func WithSweepInterval(interval time.Duration) RegistryOption {
	return func(r *Registry) {
		if interval > 0 {
			r.sweepInterval = interval
		}
	}
}

// WithMetrics attaches platform metrics.
func WithMetrics(m *metric.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates a subscription registry. The expiry sweeper runs until ctx is
// cancelled or Close is called.
func New(ctx context.Context, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		logger:        logger.With("component", "registry"),
		maxPerOwner:   DefaultMaxPerOwner,
		requestRate:   rate.Limit(DefaultRequestRate),
		requestBurst:  DefaultRequestBurst,
		subs:          make(map[string]Subscription),
		byOwner:       make(map[string]map[string]struct{}),
		limiters:      make(map[string]*rate.Limiter),
		sweepInterval: DefaultSweepInterval,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	go r.sweep(ctx)

	return r
}

// Subscribe validates and stores a new subscription, returning it with a
// generated ID. Auth is checked first: the registry never stores an
// unauthenticated subscription.
func (r *Registry) Subscribe(_ context.Context, req Request) (Subscription, error) {
	if req.Principal == "" {
		return Subscription{}, errors.WrapUnauthorized(errors.ErrUnauthorized,
			"registry", "Subscribe", "authentication context required")
	}

	if err := validateRequest(req); err != nil {
		return Subscription{}, err
	}

	ownerKey := req.OwnerID
	if ownerKey == "" {
		ownerKey = req.Principal
	}

	if !r.limiter(ownerKey).Allow() {
		return Subscription{}, errors.WrapRateLimited(errors.ErrRateLimited,
			"registry", "Subscribe", "request burst limit exceeded")
	}

	now := time.Now()
	sub := Subscription{
		ID:        uuid.New().String(),
		Topics:    dedupe(req.Topics),
		Filters:   req.Filters,
		OwnerID:   req.OwnerID,
		Metadata:  req.Metadata,
		CreatedAt: now,
	}
	if req.TTL > 0 {
		sub.ExpiresAt = now.Add(req.TTL)
	}

	r.mu.Lock()
	owned := r.byOwner[ownerKey]
	if len(owned) >= r.maxPerOwner {
		r.mu.Unlock()
		return Subscription{}, errors.WrapRateLimited(errors.ErrSubscriptionLimit,
			"registry", "Subscribe", "per-owner subscription cap reached")
	}

	if owned == nil {
		owned = make(map[string]struct{})
		r.byOwner[ownerKey] = owned
	}
	owned[sub.ID] = struct{}{}
	r.subs[sub.ID] = sub
	total := len(r.subs)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSubscriptionsActive("registry", total)
	}

	r.logger.Debug("subscription created",
		"subscription_id", sub.ID,
		"owner", req.OwnerID,
		"topics", len(sub.Topics))

	return sub, nil
}

// Unsubscribe removes a subscription by ID.
func (r *Registry) Unsubscribe(id string) error {
	r.mu.Lock()
	sub, exists := r.subs[id]
	if exists {
		delete(r.subs, id)
		r.removeFromOwnerLocked(sub, id)
	}
	total := len(r.subs)
	r.mu.Unlock()

	if !exists {
		return errors.WrapInvalid(errors.ErrSubscriptionNotFnd, "registry", "Unsubscribe", "lookup")
	}

	if r.metrics != nil {
		r.metrics.RecordSubscriptionsActive("registry", total)
	}

	r.logger.Debug("subscription removed", "subscription_id", id)
	return nil
}

// Get returns a subscription by ID.
func (r *Registry) Get(id string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	return sub, ok
}

// ListByOwner returns all live subscriptions for an owner.
func (r *Registry) ListByOwner(ownerID string) []Subscription {
	now := time.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Subscription
	for _, sub := range r.subs {
		if sub.OwnerID == ownerID && !sub.Expired(now) {
			result = append(result, sub)
		}
	}
	return result
}

// MatchEvent returns the subscriptions an event should be delivered to.
// Expired subscriptions never match.
func (r *Registry) MatchEvent(ev *event.Event) []Subscription {
	now := time.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Subscription
	for _, sub := range r.subs {
		if sub.Expired(now) {
			continue
		}
		if sub.Matches(ev) {
			matched = append(matched, sub)
		}
	}
	return matched
}

// Count returns the total number of stored subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Clear removes all subscriptions and rate limiter state (test isolation).
func (r *Registry) Clear() {
	r.mu.Lock()
	r.subs = make(map[string]Subscription)
	r.byOwner = make(map[string]map[string]struct{})
	r.limiters = make(map[string]*rate.Limiter)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSubscriptionsActive("registry", 0)
	}
}

// Close stops the expiry sweeper.
func (r *Registry) Close() {
	r.sweepOnce.Do(func() {
		close(r.shutdown)
	})
	<-r.done
}

// limiter returns (creating if needed) the request limiter for an owner.
func (r *Registry) limiter(owner string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.limiters[owner]
	if !ok {
		lim = rate.NewLimiter(r.requestRate, r.requestBurst)
		r.limiters[owner] = lim
	}
	return lim
}

// removeFromOwnerLocked drops a subscription ID from the owner index.
// Caller holds r.mu.
func (r *Registry) removeFromOwnerLocked(sub Subscription, id string) {
	ownerKey := sub.OwnerID
	if ownerKey == "" {
		// Unscoped subscriptions are indexed under their principal; scan.
		for owner, ids := range r.byOwner {
			if _, ok := ids[id]; ok {
				ownerKey = owner
				break
			}
		}
	}
	if ids, ok := r.byOwner[ownerKey]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byOwner, ownerKey)
		}
	}
}

// sweep periodically removes expired subscriptions.
func (r *Registry) sweep(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		case <-ticker.C:
			r.removeExpired()
		}
	}
}

// removeExpired drops all subscriptions past their expiry.
func (r *Registry) removeExpired() {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for id, sub := range r.subs {
		if sub.Expired(now) {
			expired = append(expired, id)
			delete(r.subs, id)
			r.removeFromOwnerLocked(sub, id)
		}
	}
	total := len(r.subs)
	r.mu.Unlock()

	if len(expired) > 0 {
		if r.metrics != nil {
			r.metrics.RecordSubscriptionsActive("registry", total)
		}
		r.logger.Debug("expired subscriptions removed", "count", len(expired))
	}
}

// dedupe returns topics with duplicates removed, preserving order.
func dedupe(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
