// Package procedures implements the typed pipeline of cryptographic
// operations that read from and write to vault records under guard: BIP39,
// SLIP10, Ed25519, X25519, and hashing. Every procedure executes its pure
// computation inside a guarded-buffer scope and either writes its output to
// a vault record or returns non-secret public material to the caller.
package procedures

import (
	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/keystore"
	"github.com/vaultworks/stronghold/internal/memguard"
	"github.com/vaultworks/stronghold/internal/vaulterrors"
	"github.com/vaultworks/stronghold/internal/vaultview"
)

// Procedure is one typed operation in a chain. Execute performs its reads,
// its computation and its write (if any), returning the non-secret value
// the caller sees.
type Procedure interface {
	Execute(rt *Runner) (any, error)
}

// Runner binds a procedure chain to the vault view and keystore it operates
// against.
type Runner struct {
	Vault *vaultview.View
	Keys  *keystore.Store
}

// NewRunner builds a Runner over the given vault view and keystore.
func NewRunner(vault *vaultview.View, keys *keystore.Store) *Runner {
	return &Runner{Vault: vault, Keys: keys}
}

// Run executes a chain of procedures in order, failing atomically on the
// first error. Writes already performed by earlier procedures in the chain
// are not rolled back; durability is governed by the client's own commit,
// not by chain success.
func (rt *Runner) Run(chain []Procedure) ([]any, error) {
	results := make([]any, 0, len(chain))
	for _, p := range chain {
		out, err := p.Execute(rt)
		if err != nil {
			return results, vaulterrors.New(vaulterrors.KindProcedure, "procedures: run chain", err)
		}
		results = append(results, out)
	}
	return results, nil
}

// withVaultKey fetches vid's key and passes it to f within a single
// keystore scope.
func (rt *Runner) withVaultKey(vid idhash.ID, f func(key []byte) error) error {
	return rt.Keys.GetKey(vid, f)
}

// readRecord opens (vid, rid) under its vault's key and hands the
// plaintext to f inside the guarded scope.
func (rt *Runner) readRecord(vid, rid idhash.ID, f func(plain []byte) error) error {
	return rt.withVaultKey(vid, func(key []byte) error {
		return rt.Vault.GetGuard(key, vid, rid, func(buf *memguard.Buffer) error {
			return buf.View(f)
		})
	})
}

// writeRecord seals data under (vid, rid)'s vault key, creating the record
// if absent or overwriting it (under a freshly drawn blob id) if present.
// The vault's key and the vault itself are created on the first write.
func (rt *Runner) writeRecord(vid, rid idhash.ID, hint vaultview.RecordHint, data []byte) error {
	if !rt.Keys.ContainsKey(vid) {
		if err := rt.Keys.CreateKey(vid); err != nil {
			return err
		}
	}
	return rt.withVaultKey(vid, func(key []byte) error {
		if !rt.Vault.VaultExists(vid) {
			if err := rt.Vault.CreateVault(vid, key); err != nil {
				return err
			}
		}
		if rt.Vault.ContainsRecord(vid, rid) {
			return rt.Vault.Update(key, vid, rid, data)
		}
		return rt.Vault.Write(key, vid, rid, data, hint)
	})
}
