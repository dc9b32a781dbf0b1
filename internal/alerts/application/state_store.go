package application

import (
	"hash/fnv"
	"sync"
	"time"
)

const stateShards = 32

type stateEntry[T any] struct {
	value     T
	touchedAt time.Time
}

type stateShard[T any] struct {
	mu      sync.Mutex
	entries map[string]*stateEntry[T]
}

// StateStore is a sharded map of per-rule state. Each entry carries the time it
// was last written so idle entries can be swept.
type StateStore[T any] struct {
	shards [stateShards]stateShard[T]
}

// NewStateStore constructs an empty store.
func NewStateStore[T any]() *StateStore[T] {
	s := &StateStore[T]{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*stateEntry[T])
	}
	return s
}

func (s *StateStore[T]) shard(key string) *stateShard[T] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%stateShards]
}

// Update runs fn on the value stored under key while holding the shard lock.
// fn receives the zero value when the key is absent. The entry is stored with
// touchedAt = now when fn returns true and removed when it returns false.
func (s *StateStore[T]) Update(key string, now time.Time, fn func(value *T, exists bool) bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, exists := sh.entries[key]
	var value T
	if exists {
		value = entry.value
	}
	if !fn(&value, exists) {
		delete(sh.entries, key)
		return
	}
	sh.entries[key] = &stateEntry[T]{value: value, touchedAt: now}
}

// Get returns a copy of the value under key.
func (s *StateStore[T]) Get(key string) (T, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry, ok := sh.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	return entry.value, true
}

// Delete removes key.
func (s *StateStore[T]) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
}

// Sweep removes entries last touched before cutoff. When removable is non-nil an
// idle entry is only removed if it also returns true.
func (s *StateStore[T]) Sweep(cutoff time.Time, removable func(T) bool) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if !entry.touchedAt.Before(cutoff) {
				continue
			}
			if removable != nil && !removable(entry.value) {
				continue
			}
			delete(sh.entries, key)
			removed++
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of live entries.
func (s *StateStore[T]) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}
