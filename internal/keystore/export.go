package keystore

import "github.com/vaultworks/stronghold/internal/idhash"

// Export reconstitutes every key and hands the full VaultId->key map to f in
// one scope, for the snapshot container to serialize before sealing. f must
// not retain the slices past its call; Export zeroizes its working copy
// immediately after f returns.
func (s *Store) Export(f func(keys map[idhash.ID][]byte) error) error {
	s.mu.RLock()
	vaults := make([]idhash.ID, 0, len(s.keys))
	for v := range s.keys {
		vaults = append(vaults, v)
	}
	s.mu.RUnlock()

	keys := make(map[idhash.ID][]byte, len(vaults))
	defer func() {
		for _, k := range keys {
			for i := range k {
				k[i] = 0
			}
		}
	}()

	for _, v := range vaults {
		var captured []byte
		if err := s.GetKey(v, func(key []byte) error {
			captured = append([]byte(nil), key...)
			return nil
		}); err != nil {
			return err
		}
		keys[v] = captured
	}

	return f(keys)
}

// Import replaces the store's contents with keys, taking ownership of (and
// zeroizing) the caller's copies as each one is guarded.
func (s *Store) Import(keys map[idhash.ID][]byte) error {
	s.ClearKeys()
	for vault, key := range keys {
		if err := s.InsertKey(vault, key); err != nil {
			return err
		}
	}
	return nil
}
