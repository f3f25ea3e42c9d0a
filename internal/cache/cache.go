// Package cache implements the bounded in-memory caches from spec §5:
// ContentDispositionStore and AlbumRenderStore, plus the per-category
// stats cache with its single-flight "generating" gate. Grounded on the
// teacher's map+mutex idiom (Store.volumes in internal/storage/store.go)
// but backed by a real LRU with policy-driven eviction instead of an
// unbounded map, per SPEC_FULL.md's DOMAIN STACK wiring of
// hashicorp/golang-lru/v2.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry is one cached value; with held set it is instead a hold marker
// that reserves the key during a database lookup so concurrent requests
// for the same miss don't stampede the backing store.
type entry[V any] struct {
	value V
	held  bool
}

// Store is a bounded, eviction-policy-driven cache of string keys to
// values of type V, with a "hold" marker per key to prevent stampedes.
type Store[V any] struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry[V]]
}

// New constructs a Store capped at size entries. Eviction is always
// least-recently-used, which is the LAST_GET_TIME strategy; a GETS_COUNT
// (least-frequently-used) strategy is not offered.
func New[V any](size int) *Store[V] {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, entry[V]](size)
	return &Store[V]{lru: c}
}

// Get returns the cached value for key, if present and not merely held.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(key)
	if !ok || e.held {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Hold reserves key, returning false if it is already held or cached, so
// only one caller proceeds to the expensive lookup that will call Set.
func (s *Store[V]) Hold(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lru.Get(key); ok {
		return false
	}
	var zero V
	s.lru.Add(key, entry[V]{value: zero, held: true})
	return true
}

// Set stores value for key and clears any hold marker.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(key, entry[V]{value: value})
}

// Evict removes key unconditionally.
func (s *Store[V]) Evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(key)
}

// Len reports the number of entries currently tracked (held or set).
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// StatsCache implements the per-category stats cache from spec §5: a
// cached value, a single-flight "generating" gate, and the time it was
// last generated. Category is a free-form string (e.g. "global",
// "user:42") so one StatsCache instance can back every category.
type StatsCache[V any] struct {
	mu    sync.Mutex
	byKey map[string]*statsEntry[V]
}

type statsEntry[V any] struct {
	value      V
	valid      bool
	generating bool
	generated  int64
	waiters    []chan struct{}
}

// NewStats constructs an empty StatsCache.
func NewStats[V any]() *StatsCache[V] {
	return &StatsCache[V]{byKey: make(map[string]*statsEntry[V])}
}

// Get returns the cached value for category, if valid.
func (s *StatsCache[V]) Get(category string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[category]
	if !ok || !e.valid {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Generate returns the cached value if valid; otherwise it acts as the
// single-flight gate: the first caller for category runs fn while later
// concurrent callers block on the same result instead of recomputing it.
func (s *StatsCache[V]) Generate(category string, fn func() (V, error)) (V, error) {
	s.mu.Lock()
	e, ok := s.byKey[category]
	if !ok {
		e = &statsEntry[V]{}
		s.byKey[category] = e
	}
	if e.valid {
		v := e.value
		s.mu.Unlock()
		return v, nil
	}
	if e.generating {
		wait := make(chan struct{})
		e.waiters = append(e.waiters, wait)
		s.mu.Unlock()
		<-wait
		s.mu.Lock()
		v, valid := e.value, e.valid
		s.mu.Unlock()
		if valid {
			return v, nil
		}
		var zero V
		return zero, errGenerationFailed
	}
	e.generating = true
	s.mu.Unlock()

	v, err := fn()

	s.mu.Lock()
	e.generating = false
	waiters := e.waiters
	e.waiters = nil
	if err == nil {
		e.value = v
		e.valid = true
		e.generated = time.Now().Unix()
	}
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if err != nil {
		return v, err
	}
	return v, nil
}

// Invalidate clears the cached value for category, forcing the next
// Generate call to recompute it.
func (s *StatsCache[V]) Invalidate(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byKey[category]; ok {
		e.valid = false
	}
}

var errGenerationFailed = statsGenerationError{}

type statsGenerationError struct{}

func (statsGenerationError) Error() string {
	return "cache: stats generation failed in another goroutine"
}
