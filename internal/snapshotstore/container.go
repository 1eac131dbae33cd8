// Package snapshotstore implements the in-memory snapshot container: a map
// from client id to an encrypted client blob plus its store cache, backed
// by a keystore of per-client blob-encryption keys. It is the structure
// snapshotcodec serializes to and restores from disk.
package snapshotstore

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/keystore"
	"github.com/vaultworks/stronghold/internal/store"
	"github.com/vaultworks/stronghold/internal/vaulterrors"
	"github.com/vaultworks/stronghold/internal/vaultview"
)

// ClientID identifies a client within the container.
type ClientID = idhash.ID

// clientBlobKeySize is the width of the per-client key that encrypts a
// client's serialized (keystore, vault view) pair.
const clientBlobKeySize = keystore.KeySize

// clientEntry is what the container keeps for one client: the ciphertext of
// its serialized working state, plus its store cache (kept unencrypted
// alongside, per the design: the store is not part of the client blob).
type clientEntry struct {
	ciphertext []byte
	storeData  *store.Store
}

// ClientData is the plaintext triple a client's working copy restores into.
type ClientData struct {
	Keystore *keystore.Store
	Vault    *vaultview.View
	Store    *store.Store
}

// Container is the snapshot's in-memory aggregate. It is safe for
// concurrent use.
type Container struct {
	mu sync.RWMutex

	// blobKeys holds each client's blob-encryption key, addressed by
	// treating the client id's bytes as a vault id (ClientId.0 in the
	// design notes this container was built from).
	blobKeys *keystore.Store
	clients  map[ClientID]*clientEntry
}

// New returns an empty container.
func New() *Container {
	return &Container{blobKeys: keystore.New(), clients: make(map[ClientID]*clientEntry)}
}

type serializedClient struct {
	Keystore map[idhash.ID][]byte
	Vault    []byte
}

// AddData seals (keystore, vault) under a freshly drawn per-client key and
// files the ciphertext and store cache under cid, replacing any prior entry
// for that client.
func (c *Container) AddData(cid ClientID, ks *keystore.Store, view *vaultview.View, st *store.Store) error {
	var exported serializedClient
	if err := ks.Export(func(keys map[idhash.ID][]byte) error {
		exported.Keystore = cloneKeyMap(keys)
		return nil
	}); err != nil {
		return fmt.Errorf("snapshotstore: export keystore: %w", err)
	}

	vaultBytes, err := view.Export()
	if err != nil {
		return fmt.Errorf("snapshotstore: export vault view: %w", err)
	}
	exported.Vault = vaultBytes

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(exported); err != nil {
		return fmt.Errorf("snapshotstore: encode client blob: %w", err)
	}
	zero(exported.Vault)
	for _, k := range exported.Keystore {
		zero(k)
	}

	key := make([]byte, clientBlobKeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("snapshotstore: draw client blob key: %w", err)
	}
	ciphertext, err := sealClientBlob(key, buf.Bytes())
	zero(buf.Bytes())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobKeys.DeleteKey(cid)
	if err := c.blobKeys.InsertKey(cid, key); err != nil {
		return fmt.Errorf("snapshotstore: insert client blob key: %w", err)
	}
	if existing, ok := c.clients[cid]; ok {
		zero(existing.ciphertext)
	}
	c.clients[cid] = &clientEntry{ciphertext: ciphertext, storeData: st}
	return nil
}

// GetState decrypts cid's blob and returns its working triple. Per the
// lazy-materialization contract, a missing key or a missing ciphertext
// yields an empty triple, not an error.
func (c *Container) GetState(cid ClientID) (*ClientData, error) {
	c.mu.RLock()
	entry, ok := c.clients[cid]
	c.mu.RUnlock()
	if !ok || !c.blobKeys.ContainsKey(cid) {
		st, _ := store.New()
		return &ClientData{Keystore: keystore.New(), Vault: vaultview.New(), Store: st}, nil
	}

	var plain []byte
	if err := c.blobKeys.GetKey(cid, func(key []byte) error {
		p, err := openClientBlob(key, entry.ciphertext)
		if err != nil {
			return err
		}
		plain = p
		return nil
	}); err != nil {
		return nil, vaulterrors.New(vaulterrors.KindDecryption, "snapshotstore: get state", err)
	}
	defer zero(plain)

	var decoded serializedClient
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&decoded); err != nil {
		return nil, vaulterrors.New(vaulterrors.KindSerialization, "snapshotstore: get state", err)
	}

	ks := keystore.New()
	if err := ks.Import(decoded.Keystore); err != nil {
		return nil, err
	}
	view := vaultview.New()
	if err := view.Import(decoded.Vault); err != nil {
		return nil, err
	}

	return &ClientData{Keystore: ks, Vault: view, Store: entry.storeData}, nil
}

// PurgeClient zeroizes and removes cid's ciphertext and blob key.
func (c *Container) PurgeClient(cid ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.clients[cid]; ok {
		zero(entry.ciphertext)
		delete(c.clients, cid)
	}
	c.blobKeys.DeleteKey(cid)
}

// ContainsClient reports whether cid currently has a stored blob.
func (c *Container) ContainsClient(cid ClientID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.clients[cid]
	return ok
}

// ClientIDs returns every client id currently present, for sync/export.
func (c *Container) ClientIDs() []ClientID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]ClientID, 0, len(c.clients))
	for id := range c.clients {
		ids = append(ids, id)
	}
	return ids
}

func cloneKeyMap(keys map[idhash.ID][]byte) map[idhash.ID][]byte {
	out := make(map[idhash.ID][]byte, len(keys))
	for k, v := range keys {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
