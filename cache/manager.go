package cache

import (
	"sync"
	"time"

	"github.com/brightpath/tutorstream/errors"
)

// Manager partitions a Store by skill name, supporting bulk invalidation of
// all entries for one skill and per-skill statistics. Components invoking a
// derived computation go through the Manager rather than the Store directly.
type Manager struct {
	store *Store

	mu    sync.RWMutex
	index map[string]map[string]struct{} // skill -> set of keys
}

// SkillStats summarizes the cached entries for one skill.
type SkillStats struct {
	Skill string   `json:"skill"`
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

// NewManager wraps a store with skill-scoped partitioning.
func NewManager(store *Store) *Manager {
	m := &Manager{
		store: store,
		index: make(map[string]map[string]struct{}),
	}
	// Keep the index consistent when the sweeper or Clean removes entries.
	store.chainEvictCallback(func(key string, _ any) {
		m.forget(key)
	})
	return m
}

// Set caches a computation result for (skill, action, params).
func (m *Manager) Set(skill, action string, params map[string]any, data any, version string, ttl time.Duration) (string, error) {
	if skill == "" || action == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "skill and action are required")
	}

	key := GenerateKey(skill, action, params)
	meta := Meta{Skill: skill, Action: action, Version: version}
	if err := m.store.Set(key, data, meta, ttl); err != nil {
		return "", err
	}

	m.mu.Lock()
	keys, ok := m.index[skill]
	if !ok {
		keys = make(map[string]struct{})
		m.index[skill] = keys
	}
	keys[key] = struct{}{}
	m.mu.Unlock()

	return key, nil
}

// Get retrieves the cached result for (skill, action, params).
func (m *Manager) Get(skill, action string, params map[string]any) (Result, bool) {
	return m.store.Get(GenerateKey(skill, action, params))
}

// InvalidateSkill removes all entries for one skill and returns the count
// removed.
func (m *Manager) InvalidateSkill(skill string) int {
	m.mu.Lock()
	keys := m.index[skill]
	delete(m.index, skill)
	m.mu.Unlock()

	removed := 0
	for key := range keys {
		if m.store.Delete(key) {
			removed++
		}
	}
	return removed
}

// Stats returns per-skill statistics.
func (m *Manager) Stats(skill string) SkillStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keySet := m.index[skill]
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}

	return SkillStats{
		Skill: skill,
		Count: len(keys),
		Keys:  keys,
	}
}

// Skills returns the names of all skills with cached entries.
func (m *Manager) Skills() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	skills := make([]string, 0, len(m.index))
	for skill := range m.index {
		skills = append(skills, skill)
	}
	return skills
}

// Clear removes everything from the underlying store and the index.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.index = make(map[string]map[string]struct{})
	m.mu.Unlock()

	m.store.Clear()
}

// Store exposes the underlying store for direct key access.
func (m *Manager) Store() *Store {
	return m.store
}

// forget drops a key from the skill index after the store evicted it.
func (m *Manager) forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for skill, keys := range m.index {
		if _, ok := keys[key]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(m.index, skill)
			}
			return
		}
	}
}
