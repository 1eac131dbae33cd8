package stronghold

import "github.com/vaultworks/stronghold/internal/idhash"

// Location names a record within a vault by the byte paths a caller
// chooses, the same way the source system addresses secrets by path
// instead of by opaque id. VaultID and RecordID are derived deterministically
// from those paths, so two Locations built from the same bytes always
// resolve to the same pair of ids.
type Location struct {
	VaultPath  []byte
	RecordPath []byte
}

// NewLocation builds a Location from string paths, the common case for
// CLI/REPL callers.
func NewLocation(vaultPath, recordPath string) Location {
	return Location{VaultPath: []byte(vaultPath), RecordPath: []byte(recordPath)}
}

// Resolve derives the (VaultId, RecordId) pair this location names, the
// same ids internal/procedures and the other internal packages operate on.
func (l Location) Resolve() (vault, record idhash.ID) {
	return idhash.DeriveVaultRecord(l.VaultPath, l.RecordPath)
}
