package sync

import (
	"crypto/rand"
	"fmt"

	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/memguard"
	"github.com/vaultworks/stronghold/internal/snapshotstore"
	"github.com/vaultworks/stronghold/internal/vaultview"
	"golang.org/x/crypto/chacha20poly1305"
)

// ExportedRecord carries one record's plaintext, sealed under its client's
// transport key rather than its original vault key, so the receiver can
// decrypt without ever learning the exporter's vault keys.
type ExportedRecord struct {
	RecordID idhash.ID
	Hint     vaultview.RecordHint
	Sealed   []byte
}

// ExportedVault groups a vault's exported records.
type ExportedVault struct {
	VaultID idhash.ID
	Records []ExportedRecord
}

// ExportedClient is one client's exported slice of a Hierarchy, sealed
// under TransportKey.
type ExportedClient struct {
	ClientID     idhash.ID
	TransportKey []byte
	Vaults       []ExportedVault
}

// Export re-encrypts every (client, vault, record) triple named by scope
// under a freshly drawn per-client transport key, reading plaintext from
// container's decrypted working copies.
func Export(container *snapshotstore.Container, scope Hierarchy) (map[idhash.ID]ExportedClient, error) {
	out := make(map[idhash.ID]ExportedClient, len(scope))

	for cid, vaults := range scope {
		data, err := container.GetState(cid)
		if err != nil {
			return nil, fmt.Errorf("sync: export client %x: %w", cid, err)
		}

		transportKey := make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(transportKey); err != nil {
			return nil, fmt.Errorf("sync: draw transport key: %w", err)
		}

		ec := ExportedClient{ClientID: cid, TransportKey: transportKey}
		for vid, records := range vaults {
			var vaultKey []byte
			if err := data.Keystore.GetKey(vid, func(k []byte) error {
				vaultKey = append([]byte(nil), k...)
				return nil
			}); err != nil {
				return nil, fmt.Errorf("sync: export vault %x key: %w", vid, err)
			}

			hints, err := data.Vault.ListHintsAndIDs(vaultKey, vid)
			if err != nil {
				return nil, err
			}
			hintByID := make(map[idhash.ID]vaultview.RecordHint, len(hints))
			for _, h := range hints {
				hintByID[h.RecordID] = h.Hint
			}

			ev := ExportedVault{VaultID: vid}
			for rid := range records {
				var plain []byte
				err := data.Vault.GetGuard(vaultKey, vid, rid, func(buf *memguard.Buffer) error {
					return buf.View(func(p []byte) error {
						plain = append([]byte(nil), p...)
						return nil
					})
				})
				if err != nil {
					return nil, fmt.Errorf("sync: export record %x/%x: %w", vid, rid, err)
				}

				sealed, err := sealWithAD(transportKey, plain, rid[:])
				zero(plain)
				if err != nil {
					return nil, err
				}
				ev.Records = append(ev.Records, ExportedRecord{RecordID: rid, Hint: hintByID[rid], Sealed: sealed})
			}
			ec.Vaults = append(ec.Vaults, ev)
		}
		out[cid] = ec
	}
	return out, nil
}

// Import decrypts exported's records with the exporter's transport keys
// and re-seals them under the local container's own (possibly freshly
// minted) vault keys, applying policy on any (vault, record) collision,
// then persists the merged result back into container.
func Import(container *snapshotstore.Container, exported map[idhash.ID]ExportedClient, policy ConflictPolicy) error {
	for cid, ec := range exported {
		data, err := container.GetState(cid)
		if err != nil {
			return fmt.Errorf("sync: import client %x: %w", cid, err)
		}

		for _, ev := range ec.Vaults {
			if !data.Keystore.ContainsKey(ev.VaultID) {
				if err := data.Keystore.CreateKey(ev.VaultID); err != nil {
					return err
				}
			}
			var localKey []byte
			if err := data.Keystore.GetKey(ev.VaultID, func(k []byte) error {
				localKey = append([]byte(nil), k...)
				return nil
			}); err != nil {
				return err
			}
			if !data.Vault.VaultExists(ev.VaultID) {
				if err := data.Vault.CreateVault(ev.VaultID, localKey); err != nil {
					return err
				}
			}

			for _, rec := range ev.Records {
				exists := data.Vault.ContainsRecord(ev.VaultID, rec.RecordID)
				if exists && policy == UnionLocal {
					continue
				}

				plain, err := openWithAD(ec.TransportKey, rec.Sealed, rec.RecordID[:])
				if err != nil {
					return fmt.Errorf("sync: import record %x/%x: %w", ev.VaultID, rec.RecordID, err)
				}

				if exists {
					err = data.Vault.Update(localKey, ev.VaultID, rec.RecordID, plain)
				} else {
					err = data.Vault.Write(localKey, ev.VaultID, rec.RecordID, plain, rec.Hint)
				}
				zero(plain)
				if err != nil {
					return err
				}
			}
		}

		if err := container.AddData(cid, data.Keystore, data.Vault, data.Store); err != nil {
			return fmt.Errorf("sync: persist merged client %x: %w", cid, err)
		}
	}
	return nil
}

func sealWithAD(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, ad)...), nil
}

func openWithAD(key, sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("sync: sealed record truncated")
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	return aead.Open(nil, nonce, ciphertext, ad)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
