package snapshotstore

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/keystore"
	"github.com/vaultworks/stronghold/internal/store"
)

type serializedContainer struct {
	BlobKeys map[idhash.ID][]byte
	Clients  map[idhash.ID]serializedContainerEntry
}

type serializedContainerEntry struct {
	Ciphertext []byte
	Store      map[string][]byte
}

// Export gob-encodes the entire container: every client's sealed blob, its
// blob key, and its store contents. This is what a Stronghold commit writes
// to a snapshot file.
func (c *Container) Export() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var blobKeys map[idhash.ID][]byte
	if err := c.blobKeys.Export(func(keys map[idhash.ID][]byte) error {
		blobKeys = cloneKeyMap(keys)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("snapshotstore: export blob keys: %w", err)
	}
	defer func() {
		for _, k := range blobKeys {
			zero(k)
		}
	}()

	clients := make(map[idhash.ID]serializedContainerEntry, len(c.clients))
	for cid, entry := range c.clients {
		clients[cid] = serializedContainerEntry{
			Ciphertext: append([]byte(nil), entry.ciphertext...),
			Store:      entry.storeData.Export(),
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(serializedContainer{BlobKeys: blobKeys, Clients: clients}); err != nil {
		return nil, fmt.Errorf("snapshotstore: encode container: %w", err)
	}
	return buf.Bytes(), nil
}

// Import replaces the container's contents with data, previously produced
// by Export.
func (c *Container) Import(data []byte) error {
	var decoded serializedContainer
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		return fmt.Errorf("snapshotstore: decode container: %w", err)
	}

	blobKeys := keystore.New()
	if err := blobKeys.Import(decoded.BlobKeys); err != nil {
		return fmt.Errorf("snapshotstore: import blob keys: %w", err)
	}

	clients := make(map[ClientID]*clientEntry, len(decoded.Clients))
	for cid, entry := range decoded.Clients {
		clients[cid] = &clientEntry{
			ciphertext: entry.Ciphertext,
			storeData:  store.Import(entry.Store),
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobKeys = blobKeys
	c.clients = clients
	return nil
}
