// Package sync implements the protocol for combining two snapshots: a
// content hierarchy, a diff against a peer's hierarchy, and export/import
// primitives that re-encrypt records under a transport key, plus an
// optional X25519-derived remote transport.
package sync

import (
	"fmt"

	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/snapshotstore"
)

// RecordSet is a set of record ids, used as the leaf of a Hierarchy.
type RecordSet map[idhash.ID]struct{}

// VaultMap maps vault id to the set of record ids present under it.
type VaultMap map[idhash.ID]RecordSet

// Hierarchy describes which (client, vault, record) triples are present in
// a snapshot, without exposing any of their content.
type Hierarchy map[idhash.ID]VaultMap

// Filter selects which clients GetHierarchy should enumerate.
type Filter func(clientID idhash.ID) bool

// AllClients is a Filter that accepts every client.
func AllClients(idhash.ID) bool { return true }

// GetHierarchy decrypts every client container matches filter and walks its
// working copy to build a Hierarchy. It does not mutate the container.
func GetHierarchy(container *snapshotstore.Container, filter Filter) (Hierarchy, error) {
	if filter == nil {
		filter = AllClients
	}

	h := make(Hierarchy)
	for _, cid := range container.ClientIDs() {
		if !filter(cid) {
			continue
		}
		data, err := container.GetState(cid)
		if err != nil {
			return nil, fmt.Errorf("sync: get hierarchy for client %x: %w", cid, err)
		}

		vaults := make(VaultMap)
		for _, vid := range data.Vault.VaultIDs() {
			var key []byte
			if err := data.Keystore.GetKey(vid, func(k []byte) error {
				key = append([]byte(nil), k...)
				return nil
			}); err != nil {
				return nil, fmt.Errorf("sync: get hierarchy: vault %x key: %w", vid, err)
			}
			entries, err := data.Vault.ListHintsAndIDs(key, vid)
			if err != nil {
				return nil, fmt.Errorf("sync: get hierarchy: list records in vault %x: %w", vid, err)
			}
			records := make(RecordSet, len(entries))
			for _, e := range entries {
				records[e.RecordID] = struct{}{}
			}
			vaults[vid] = records
		}
		h[cid] = vaults
	}
	return h, nil
}

// Diff returns the subset of remote not present in local: every
// (client, vault, record) triple remote has that local lacks.
func Diff(local, remote Hierarchy) Hierarchy {
	out := make(Hierarchy)
	for cid, remoteVaults := range remote {
		localVaults := local[cid]
		for vid, remoteRecords := range remoteVaults {
			localRecords := localVaults[vid]
			var missing RecordSet
			for rid := range remoteRecords {
				if _, ok := localRecords[rid]; !ok {
					if missing == nil {
						missing = make(RecordSet)
					}
					missing[rid] = struct{}{}
				}
			}
			if len(missing) > 0 {
				if out[cid] == nil {
					out[cid] = make(VaultMap)
				}
				out[cid][vid] = missing
			}
		}
	}
	return out
}
