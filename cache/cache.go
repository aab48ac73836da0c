// Package cache provides the skill result cache: a thread-safe key/value
// store with TTL and stale-while-revalidate semantics for derived ("skill")
// computation results.
//
// An entry transitions from fresh to stale at createdAt+ttl. Stale entries
// are still served (marked stale) so callers can render immediately while
// triggering a refresh; entries whose staleness exceeds the configured stale
// window are removed by Clean or the background sweeper.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brightpath/tutorstream/errors"
)

// Meta describes the computation a cached result came from.
type Meta struct {
	Skill   string `json:"skill"`
	Action  string `json:"action"`
	Version string `json:"version,omitempty"`
}

// Result is what Get returns: the cached data plus staleness information.
// Stale results remain usable; callers should trigger a recomputation.
type Result struct {
	Data      any
	Meta      Meta
	CreatedAt time.Time
	Age       time.Duration
	Stale     bool
}

// entry is the stored representation of one cached computation.
type entry struct {
	key       string
	data      any
	meta      Meta
	createdAt time.Time
	ttl       time.Duration
}

// freshUntil returns the instant the entry turns stale.
func (e *entry) freshUntil() time.Time {
	return e.createdAt.Add(e.ttl)
}

// Store is a thread-safe TTL cache with stale-while-revalidate semantics.
type Store struct {
	mu          sync.RWMutex
	items       map[string]*entry
	defaultTTL  time.Duration
	staleWindow time.Duration
	stats       *Statistics
	metrics     *cacheMetrics // optional
	evictFn     EvictCallback

	cleanupInterval time.Duration
	shutdown        chan struct{}
	done            chan struct{}
}

// EvictCallback is called with the key and data of each removed entry.
type EvictCallback func(key string, data any)

// NewStore creates a skill result cache. The background sweeper removes
// entries whose staleness exceeds the stale window; it stops when ctx is
// cancelled or Close is called.
func NewStore(ctx context.Context, options ...Option) (*Store, error) {
	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	s := &Store{
		items:           make(map[string]*entry),
		defaultTTL:      opts.defaultTTL,
		staleWindow:     opts.staleWindow,
		stats:           NewStatistics(),
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		cleanupInterval: opts.cleanupInterval,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}

	go s.sweep(ctx)

	return s, nil
}

// Set stores a computation result under key. A zero ttl uses the store
// default.
func (s *Store) Set(key string, data any, meta Meta, ttl time.Duration) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "key cannot be empty")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	s.items[key] = &entry{
		key:       key,
		data:      data,
		meta:      meta,
		createdAt: time.Now(),
		ttl:       ttl,
	}
	size := len(s.items)
	s.mu.Unlock()

	s.stats.Set()
	s.stats.UpdateSize(int64(size))
	if s.metrics != nil {
		s.metrics.recordSet()
		s.metrics.updateSize(size)
	}

	return nil
}

// Get retrieves a cached result. A miss returns (zero, false). A hit past
// its TTL returns the data with Stale=true: the caller may still use it but
// should trigger a refresh.
func (s *Store) Get(key string) (Result, bool) {
	s.mu.RLock()
	e, exists := s.items[key]
	s.mu.RUnlock()

	if !exists {
		s.stats.Miss()
		if s.metrics != nil {
			s.metrics.recordMiss()
		}
		return Result{}, false
	}

	now := time.Now()
	stale := now.After(e.freshUntil())

	if stale {
		s.stats.StaleHit()
		if s.metrics != nil {
			s.metrics.recordStaleHit()
		}
	} else {
		s.stats.Hit()
		if s.metrics != nil {
			s.metrics.recordHit()
		}
	}

	return Result{
		Data:      e.data,
		Meta:      e.meta,
		CreatedAt: e.createdAt,
		Age:       now.Sub(e.createdAt),
		Stale:     stale,
	}, true
}

// chainEvictCallback prepends fn to the eviction callback chain. The lock
// keeps this safe against a concurrent sweeper pass.
func (s *Store) chainEvictCallback(fn EvictCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.evictFn
	if prev == nil {
		s.evictFn = fn
		return
	}
	s.evictFn = func(key string, data any) {
		fn(key, data)
		prev(key, data)
	}
}

// Delete removes an entry by key. Returns true if the key existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	e, exists := s.items[key]
	if exists {
		delete(s.items, key)
		if s.evictFn != nil {
			defer s.evictFn(key, e.data)
		}
	}
	size := len(s.items)
	s.mu.Unlock()

	if exists {
		s.stats.Delete()
		s.stats.UpdateSize(int64(size))
		if s.metrics != nil {
			s.metrics.recordDelete()
			s.metrics.updateSize(size)
		}
	}

	return exists
}

// Clear removes all entries from the cache.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.evictFn != nil {
		for _, e := range s.items {
			s.evictFn(e.key, e.data)
		}
	}
	s.items = make(map[string]*entry)
	s.mu.Unlock()

	s.stats.UpdateSize(0)
	if s.metrics != nil {
		s.metrics.updateSize(0)
	}
}

// Clean removes entries whose staleness exceeds the stale window and returns
// the count removed. Entries that are merely stale (within the window)
// survive, honoring the stale-while-revalidate contract.
func (s *Store) Clean() int {
	now := time.Now()
	var removed []*entry

	s.mu.Lock()
	for key, e := range s.items {
		if now.After(e.freshUntil().Add(s.staleWindow)) {
			removed = append(removed, e)
			delete(s.items, key)
		}
	}
	size := len(s.items)
	evict := s.evictFn
	s.mu.Unlock()

	// Invoke callbacks outside the lock
	if evict != nil {
		for _, e := range removed {
			evict(e.key, e.data)
		}
	}

	if len(removed) > 0 {
		for range removed {
			s.stats.Eviction()
		}
		s.stats.UpdateSize(int64(size))
		if s.metrics != nil {
			for range removed {
				s.metrics.recordEviction()
			}
			s.metrics.updateSize(size)
		}
	}

	return len(removed)
}

// Size returns the current number of entries in the cache.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Keys returns all keys currently in the cache, including stale ones.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	return keys
}

// Stats returns cache statistics.
func (s *Store) Stats() *Statistics {
	return s.stats
}

// Close stops the background sweeper.
func (s *Store) Close() error {
	select {
	case <-s.shutdown:
		// Already shutting down
	default:
		close(s.shutdown)
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for sweeper to finish")
	}
}

// sweep periodically removes entries past the stale window.
func (s *Store) sweep(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.Clean()
		}
	}
}
