package stronghold

import (
	"fmt"

	"github.com/vaultworks/stronghold/internal/clientstate"
	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/sync"
)

// ConflictPolicy governs what ImportFromSync does when an incoming record
// already exists locally at the same vault/record pair.
type ConflictPolicy = sync.ConflictPolicy

const (
	// KeepLocal discards incoming records that collide with a local one.
	KeepLocal ConflictPolicy = sync.UnionLocal
	// ReplaceWithImported overwrites the local record on collision.
	ReplaceWithImported ConflictPolicy = sync.ReplaceFromRemote
)

// Hierarchy describes which (client, vault, record) triples are present in
// a snapshot without exposing any of their content, the shape exchanged
// with a peer before deciding what to synchronize.
type Hierarchy = sync.Hierarchy

// ClientFilter narrows GetHierarchy to a subset of clients.
type ClientFilter = sync.Filter

// AllClients accepts every client, the default GetHierarchy filter.
var AllClients = sync.AllClients

// GetHierarchy walks every Committed client matching filter and returns the
// (client, vault, record) triples it holds, without decrypting any record
// payload beyond what ListRecords already exposes.
func (s *Stronghold) GetHierarchy(filter ClientFilter) (Hierarchy, error) {
	return sync.GetHierarchy(s.container, filter)
}

// DiffHierarchy returns the subset of remote this Stronghold's local
// hierarchy lacks, the set of triples worth requesting from a peer.
func (s *Stronghold) DiffHierarchy(local, remote Hierarchy) Hierarchy {
	return sync.Diff(local, remote)
}

// ExportedState is an opaque, transport-key-sealed export produced by
// ExportForSync and consumed by ImportFromSync or bundled via
// ExportToPeer/ImportFromPeer.
type ExportedState = map[idhash.ID]sync.ExportedClient

// ExportForSync re-encrypts every (client, vault, record) triple named by
// scope under a freshly drawn per-client transport key, so the result can
// be handed to a peer without exposing this Stronghold's vault keys.
func (s *Stronghold) ExportForSync(scope Hierarchy) (ExportedState, error) {
	return sync.Export(s.container, scope)
}

// ImportFromSync decrypts exported's records with the embedded transport
// keys, re-seals them under this Stronghold's own vault keys (minting them
// if a client or vault is new), and merges the result according to policy.
// Any client named in exported that is currently loaded has its working
// copy refreshed in place so callers see the merged records immediately,
// without an intervening unload/reload through a snapshot file.
func (s *Stronghold) ImportFromSync(exported ExportedState, policy ConflictPolicy) error {
	if err := sync.Import(s.container, exported, policy); err != nil {
		return fmt.Errorf("stronghold: import sync state: %w", err)
	}
	for cid := range exported {
		if handle, ok := s.clients.Lookup(cid); ok && handle.Data() != nil {
			merged, err := s.container.GetState(cid)
			if err != nil {
				continue
			}
			_ = s.clients.Refresh(cid, &clientstate.Data{Keystore: merged.Keystore, Vault: merged.Vault, Store: merged.Store})
		}
	}
	return nil
}

// PeerBundle is the wire form of an ExportedState sealed for one named
// remote peer via an X25519 handshake.
type PeerBundle = sync.Bundle

// ExportToPeer performs an ephemeral X25519 handshake against
// remotePublicKey and returns exported sealed for transport to that peer.
func (s *Stronghold) ExportToPeer(exported ExportedState, remotePublicKey [32]byte) (PeerBundle, error) {
	return sync.ExportToSerializedState(exported, remotePublicKey)
}

// ImportFromPeer reverses ExportToPeer using this side's long-lived X25519
// secret scalar, returning the ExportedState ready for ImportFromSync.
func (s *Stronghold) ImportFromPeer(bundle PeerBundle, localSecret [32]byte) (ExportedState, error) {
	return sync.ReceiveSerializedState(bundle, localSecret)
}
