// Package keystore holds the per-vault symmetric keys that protect record
// content. Keys never sit in ordinary heap memory: each one lives inside a
// memguard.NonContiguousMemory shard pair for as long as the keystore holds
// it, and is only reconstituted into a short-lived guarded Buffer for the
// duration of a single caller-supplied scope.
package keystore

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/memguard"
	"github.com/vaultworks/stronghold/internal/vaulterrors"
)

// KeySize is the width of a vault key, matching memguard.Size so every key
// can be held as non-contiguous guarded memory.
const KeySize = memguard.Size

// Store maps VaultId to a guarded, non-contiguous vault key. It is safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	keys map[idhash.ID]*memguard.NonContiguousMemory
}

// New returns an empty keystore.
func New() *Store {
	return &Store{keys: make(map[idhash.ID]*memguard.NonContiguousMemory)}
}

// CreateKey draws a fresh random key for vault and stores it guarded under
// that vault id. It fails if the vault already has a key.
func (s *Store) CreateKey(vault idhash.ID) error {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return vaulterrors.New(vaulterrors.KindInternal, "keystore: draw key", err)
	}
	defer func() {
		for i := range raw {
			raw[i] = 0
		}
	}()
	return s.InsertKey(vault, raw)
}

// InsertKey stores an externally supplied key for vault, taking ownership of
// key's bytes (zeroing the caller's copy once shards are built). It fails if
// the vault already has a key.
func (s *Store) InsertKey(vault idhash.ID, key []byte) error {
	if len(key) != KeySize {
		return vaulterrors.New(vaulterrors.KindInvalidInput, "keystore: insert key", fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key)))
	}

	nc, err := memguard.New(key)
	if err != nil {
		return vaulterrors.New(vaulterrors.KindInternal, "keystore: guard key", err)
	}
	for i := range key {
		key[i] = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[vault]; exists {
		nc.Close()
		return vaulterrors.New(vaulterrors.KindAlreadyExists, "keystore: insert key", fmt.Errorf("vault %x already has a key", vault))
	}
	s.keys[vault] = nc
	return nil
}

// GetKey reconstitutes vault's key into a guarded Buffer and passes it to f.
// The buffer is closed (zeroized) the instant f returns.
func (s *Store) GetKey(vault idhash.ID, f func(key []byte) error) error {
	s.mu.RLock()
	nc, ok := s.keys[vault]
	s.mu.RUnlock()
	if !ok {
		return vaulterrors.New(vaulterrors.KindNotFound, "keystore: get key", fmt.Errorf("no key for vault %x", vault))
	}

	buf, err := nc.Unlock()
	if err != nil {
		return vaulterrors.New(vaulterrors.KindInternal, "keystore: unlock key", err)
	}
	defer buf.Close()

	return buf.View(f)
}

// ContainsKey reports whether vault has a registered key.
func (s *Store) ContainsKey(vault idhash.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[vault]
	return ok
}

// DeleteKey removes and zeroizes vault's key, if present.
func (s *Store) DeleteKey(vault idhash.ID) {
	s.mu.Lock()
	nc, ok := s.keys[vault]
	if ok {
		delete(s.keys, vault)
	}
	s.mu.Unlock()
	if ok {
		nc.Close()
	}
}

// ClearKeys removes and zeroizes every key in the store.
func (s *Store) ClearKeys() {
	s.mu.Lock()
	old := s.keys
	s.keys = make(map[idhash.ID]*memguard.NonContiguousMemory)
	s.mu.Unlock()
	for _, nc := range old {
		nc.Close()
	}
}
