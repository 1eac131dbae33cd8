// Package store implements a general-purpose TTL-backed key/value cache
// available to clients for non-secret, non-vaulted state (sync cursors,
// session metadata, small bookkeeping blobs). It layers an insertion-time
// index over a ristretto cache so two stores merged during a sync can agree
// on which side's value for a colliding key is newer.
package store

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	numCounters = 1e7
	maxCost     = 1 << 28
	bufferItems = 64
)

// Store is a TTL cache of arbitrary byte values keyed by string, safe for
// concurrent use.
type Store struct {
	cache *ristretto.Cache[string, []byte]

	mu    sync.Mutex
	index map[string]time.Time
}

// New builds an empty store.
func New() (*Store, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Store{cache: cache, index: make(map[string]time.Time)}, nil
}

// Insert stores value under key with the given time-to-live. A ttl of zero
// means the entry never expires. insertedAt is recorded so a later Merge
// can break ties in favor of the most recently inserted value.
func (s *Store) Insert(key string, value []byte, ttl time.Duration) {
	s.insertAt(key, value, ttl, time.Now())
}

func (s *Store) insertAt(key string, value []byte, ttl time.Duration, at time.Time) {
	cp := append([]byte(nil), value...)
	if ttl <= 0 {
		s.cache.Set(key, cp, int64(len(cp)))
	} else {
		s.cache.SetWithTTL(key, cp, int64(len(cp)), ttl)
	}
	s.cache.Wait()

	s.mu.Lock()
	s.index[key] = at
	s.mu.Unlock()
}

// Get returns the value for key and whether it was present and unexpired.
func (s *Store) Get(key string) ([]byte, bool) {
	value, ok := s.cache.Get(key)
	if !ok {
		s.mu.Lock()
		delete(s.index, key)
		s.mu.Unlock()
		return nil, false
	}
	return value, true
}

// ContainsKey reports whether key currently has an unexpired value.
func (s *Store) ContainsKey(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes key, if present.
func (s *Store) Delete(key string) {
	s.cache.Del(key)
	s.mu.Lock()
	delete(s.index, key)
	s.mu.Unlock()
}

// Keys returns every key currently tracked by the insertion-time index.
// Entries whose TTL has lapsed are dropped lazily as Keys encounters them.
func (s *Store) Keys() []string {
	s.mu.Lock()
	candidates := make([]string, 0, len(s.index))
	for k := range s.index {
		candidates = append(candidates, k)
	}
	s.mu.Unlock()

	live := make([]string, 0, len(candidates))
	for _, k := range candidates {
		if s.ContainsKey(k) {
			live = append(live, k)
		}
	}
	return live
}

// Merge folds other into s: the union of both key sets, with the value
// inserted most recently winning on any key collision.
func (s *Store) Merge(other *Store) {
	for _, key := range other.Keys() {
		other.mu.Lock()
		otherAt := other.index[key]
		other.mu.Unlock()

		value, ok := other.Get(key)
		if !ok {
			continue
		}

		s.mu.Lock()
		mineAt, exists := s.index[key]
		s.mu.Unlock()
		if exists && !otherAt.After(mineAt) {
			continue
		}
		s.insertAt(key, value, 0, otherAt)
	}
}

// Export returns a snapshot of every live key/value pair, for the snapshot
// container to serialize. TTLs are not preserved across the round-trip:
// restored entries never expire, since the original expiry instant is
// meaningless once reloaded into a new process at an unknown later time.
func (s *Store) Export() map[string][]byte {
	keys := s.Keys()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.Get(k); ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out
}

// Import replaces the store's contents with entries, none of which expire.
func Import(entries map[string][]byte) *Store {
	s, _ := New() // ristretto.NewCache only fails on invalid config constants
	for k, v := range entries {
		s.Insert(k, v, 0)
	}
	return s
}
