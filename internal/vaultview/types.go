// Package vaultview implements the record codec and the per-vault view that
// sits above it: content-addressed, per-record symmetric encryption, plus
// revocation markers and garbage collection.
package vaultview

import "github.com/vaultworks/stronghold/internal/idhash"

// VaultID and RecordID are the opaque identifiers produced by idhash.Derive
// from a Location's vault-path / record-path bytes.
type VaultID = idhash.ID
type RecordID = idhash.ID

// VaultKeySize is the width, in bytes, of the symmetric key that encrypts
// every record in a vault.
const VaultKeySize = 32

// RecordHintSize is the maximum width of a record's plaintext metadata hint.
const RecordHintSize = 24

// RecordHint is caller-supplied metadata attached to a record at write time
// and immutable thereafter. Shorter hints are zero-padded; HintFrom handles
// the padding/truncation so callers can pass an ordinary string or []byte.
type RecordHint [RecordHintSize]byte

// HintFrom builds a RecordHint from arbitrary bytes, truncating if the input
// is longer than RecordHintSize.
func HintFrom(b []byte) RecordHint {
	var h RecordHint
	n := copy(h[:], b)
	_ = n
	return h
}

// HintEntry pairs a record id with its hint, the shape list_hints_and_ids
// returns for every non-revoked record in a vault.
type HintEntry struct {
	RecordID RecordID
	Hint     RecordHint
}
