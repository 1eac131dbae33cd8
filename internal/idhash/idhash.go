// Package idhash derives the 24-byte opaque identifiers (ClientId, VaultId,
// RecordId) shared by every layer of the vault engine from caller-supplied
// path bytes, so a (vault-path, record-path) Location always resolves to the
// same pair of IDs regardless of which package is asking.
package idhash

import "golang.org/x/crypto/blake2b"

// Size is the width, in bytes, of every ID produced by this package.
const Size = 24

// ID is a 24-byte opaque identifier. The zero value denotes "no id" and is
// never produced by Derive.
type ID [Size]byte

// IsZero reports whether id is the all-zero sentinel.
func (id ID) IsZero() bool { return id == ID{} }

// Derive hashes path with Blake2b-256 and truncates the digest to Size
// bytes. Every byte of a Blake2b digest is uniformly random, so truncation
// does not weaken the derivation.
func Derive(path []byte) ID {
	sum := blake2b.Sum256(path)
	var id ID
	copy(id[:], sum[:Size])
	return id
}

// DeriveVaultRecord hashes a (vault-path, record-path) Location into its
// (VaultId, RecordId) pair in one call.
func DeriveVaultRecord(vaultPath, recordPath []byte) (vault ID, record ID) {
	return Derive(vaultPath), Derive(recordPath)
}
