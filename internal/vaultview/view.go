package vaultview

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/vaultworks/stronghold/internal/memguard"
	"github.com/vaultworks/stronghold/internal/vaulterrors"
	"golang.org/x/crypto/blake2b"
)

// record is one sealed entry in a vault: a small sealed dataTransaction
// (record id, blob id, length, hint) plus the sealed blob it points at, and
// an optional sealed revocation marker. The blob is re-keyed (fresh random
// blob id) on every write or update.
type record struct {
	sealedData       []byte
	sealedBlob       []byte
	sealedRevocation []byte
}

type vault struct {
	mu        sync.RWMutex
	keyDigest [blake2b.Size256]byte
	records   map[RecordID]*record
}

// View holds every vault's sealed records. Callers authenticate each
// operation with the vault's raw key (obtained transiently from a
// keystore.Store scope); View never stores that key itself, only a
// one-way digest used to reject a wrong key before attempting any AEAD
// operation.
type View struct {
	mu     sync.RWMutex
	vaults map[VaultID]*vault
}

// New returns an empty record view.
func New() *View {
	return &View{vaults: make(map[VaultID]*vault)}
}

func keyDigest(key []byte) [blake2b.Size256]byte {
	return blake2b.Sum256(key)
}

// CreateVault registers vid with key, the key every subsequent operation on
// this vault must present. It is a no-op if the vault already exists with
// the same key digest, and an error if it exists under a different key.
func (v *View) CreateVault(vid VaultID, key []byte) error {
	if len(key) != VaultKeySize {
		return vaulterrors.New(vaulterrors.KindInvalidInput, "vaultview: create vault", fmt.Errorf("key must be %d bytes", VaultKeySize))
	}
	digest := keyDigest(key)

	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.vaults[vid]; ok {
		existing.mu.RLock()
		mismatch := existing.keyDigest != digest
		existing.mu.RUnlock()
		if mismatch {
			return vaulterrors.New(vaulterrors.KindInvalidKey, "vaultview: create vault", fmt.Errorf("vault already exists under a different key"))
		}
		return nil
	}
	v.vaults[vid] = &vault{keyDigest: digest, records: make(map[RecordID]*record)}
	return nil
}

// VaultExists reports whether vid has been created.
func (v *View) VaultExists(vid VaultID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.vaults[vid]
	return ok
}

// VaultIDs returns every vault id currently registered in the view.
func (v *View) VaultIDs() []VaultID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]VaultID, 0, len(v.vaults))
	for id := range v.vaults {
		ids = append(ids, id)
	}
	return ids
}

// ContainsRecord reports whether rid exists (and is not revoked) in vid.
func (v *View) ContainsRecord(vid VaultID, rid RecordID) bool {
	vlt := v.lookupVault(vid)
	if vlt == nil {
		return false
	}
	vlt.mu.RLock()
	defer vlt.mu.RUnlock()
	rec, ok := vlt.records[rid]
	return ok && rec.sealedRevocation == nil
}

func (v *View) lookupVault(vid VaultID) *vault {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.vaults[vid]
}

func (v *View) authenticatedVault(vid VaultID, key []byte) (*vault, error) {
	vlt := v.lookupVault(vid)
	if vlt == nil {
		return nil, vaulterrors.New(vaulterrors.KindMissingVault, "vaultview", fmt.Errorf("vault %x not found", vid))
	}
	vlt.mu.RLock()
	defer vlt.mu.RUnlock()
	if vlt.keyDigest != keyDigest(key) {
		return nil, vaulterrors.New(vaulterrors.KindInvalidKey, "vaultview", fmt.Errorf("key does not match vault %x", vid))
	}
	return vlt, nil
}

// Write seals data as a fresh record under rid, failing if rid already
// exists (non-revoked) in the vault. hint is attached as plaintext-grade
// metadata: not a secret, but still sealed inside the data transaction so
// listing hints still requires the vault key.
func (v *View) Write(key []byte, vid VaultID, rid RecordID, data []byte, hint RecordHint) error {
	vlt, err := v.authenticatedVault(vid, key)
	if err != nil {
		return err
	}

	vlt.mu.Lock()
	defer vlt.mu.Unlock()
	if existing, ok := vlt.records[rid]; ok && existing.sealedRevocation == nil {
		return vaulterrors.New(vaulterrors.KindAlreadyExists, "vaultview: write", fmt.Errorf("record %x already exists", rid))
	}

	rec, err := sealRecord(key, rid, data, hint)
	if err != nil {
		return err
	}
	vlt.records[rid] = rec
	return nil
}

// Update re-seals rid's data under a freshly drawn blob id, preserving the
// record's original hint. It fails if rid does not exist or is revoked.
func (v *View) Update(key []byte, vid VaultID, rid RecordID, data []byte) error {
	vlt, err := v.authenticatedVault(vid, key)
	if err != nil {
		return err
	}

	vlt.mu.Lock()
	defer vlt.mu.Unlock()
	existing, ok := vlt.records[rid]
	if !ok || existing.sealedRevocation != nil {
		return vaulterrors.New(vaulterrors.KindMissingRecord, "vaultview: update", fmt.Errorf("record %x not found", rid))
	}

	dt, err := openDataTransaction(key, rid, existing.sealedData)
	if err != nil {
		return err
	}
	rec, err := sealRecord(key, rid, data, dt.Hint)
	if err != nil {
		return err
	}
	vlt.records[rid] = rec
	return nil
}

// Revoke marks rid for deletion without erasing its ciphertext yet; the
// record becomes invisible to ContainsRecord, ListHintsAndIDs and GetGuard,
// but its bytes aren't zeroized until GarbageCollectVault runs.
func (v *View) Revoke(key []byte, vid VaultID, rid RecordID) error {
	vlt, err := v.authenticatedVault(vid, key)
	if err != nil {
		return err
	}

	vlt.mu.Lock()
	defer vlt.mu.Unlock()
	existing, ok := vlt.records[rid]
	if !ok || existing.sealedRevocation != nil {
		return vaulterrors.New(vaulterrors.KindMissingRecord, "vaultview: revoke", fmt.Errorf("record %x not found", rid))
	}

	sealedRevocation, err := seal(key, rid[:], rid[:])
	if err != nil {
		return vaulterrors.New(vaulterrors.KindInternal, "vaultview: revoke", err)
	}
	existing.sealedRevocation = sealedRevocation
	return nil
}

// GarbageCollectVault permanently drops every revoked record, zeroizing
// their sealed ciphertext first.
func (v *View) GarbageCollectVault(key []byte, vid VaultID) error {
	vlt, err := v.authenticatedVault(vid, key)
	if err != nil {
		return err
	}

	vlt.mu.Lock()
	defer vlt.mu.Unlock()
	for rid, rec := range vlt.records {
		if rec.sealedRevocation == nil {
			continue
		}
		zero(rec.sealedData)
		zero(rec.sealedBlob)
		zero(rec.sealedRevocation)
		delete(vlt.records, rid)
	}
	return nil
}

// GetGuard decrypts rid's blob into a guarded Buffer and passes it to f,
// closing (zeroizing) the buffer the instant f returns.
func (v *View) GetGuard(key []byte, vid VaultID, rid RecordID, f func(*memguard.Buffer) error) error {
	vlt, err := v.authenticatedVault(vid, key)
	if err != nil {
		return err
	}

	vlt.mu.RLock()
	rec, ok := vlt.records[rid]
	vlt.mu.RUnlock()
	if !ok || rec.sealedRevocation != nil {
		return vaulterrors.New(vaulterrors.KindMissingRecord, "vaultview: get guard", fmt.Errorf("record %x not found", rid))
	}

	dt, err := openDataTransaction(key, rid, rec.sealedData)
	if err != nil {
		return err
	}
	plaintext, err := open(key, rec.sealedBlob, dt.BlobID[:])
	if err != nil {
		return vaulterrors.New(vaulterrors.KindDecryption, "vaultview: get guard", err)
	}
	buf, err := memguard.AllocFromBytes(plaintext)
	if err != nil {
		return vaulterrors.New(vaulterrors.KindInternal, "vaultview: get guard", err)
	}
	defer buf.Close()

	return f(buf)
}

// ListHintsAndIDs decrypts every non-revoked record's data transaction
// (cheap — no blob touched) and returns its hint.
func (v *View) ListHintsAndIDs(key []byte, vid VaultID) ([]HintEntry, error) {
	vlt, err := v.authenticatedVault(vid, key)
	if err != nil {
		return nil, err
	}

	vlt.mu.RLock()
	defer vlt.mu.RUnlock()
	out := make([]HintEntry, 0, len(vlt.records))
	for rid, rec := range vlt.records {
		if rec.sealedRevocation != nil {
			continue
		}
		dt, err := openDataTransaction(key, rid, rec.sealedData)
		if err != nil {
			return nil, err
		}
		out = append(out, HintEntry{RecordID: rid, Hint: dt.Hint})
	}
	return out, nil
}

func sealRecord(key []byte, rid RecordID, data []byte, hint RecordHint) (*record, error) {
	var blobID RecordID
	if _, err := rand.Read(blobID[:]); err != nil {
		return nil, vaulterrors.New(vaulterrors.KindInternal, "vaultview: draw blob id", err)
	}

	sealedBlob, err := seal(key, data, blobID[:])
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.KindInternal, "vaultview: seal blob", err)
	}

	dt := dataTransaction{RecordID: rid, Length: uint32(len(data)), BlobID: blobID, Hint: hint}
	sealedData, err := seal(key, dt.encode(), rid[:])
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.KindInternal, "vaultview: seal data transaction", err)
	}

	return &record{sealedData: sealedData, sealedBlob: sealedBlob}, nil
}

func openDataTransaction(key []byte, rid RecordID, sealedData []byte) (dataTransaction, error) {
	plaintext, err := open(key, sealedData, rid[:])
	if err != nil {
		return dataTransaction{}, vaulterrors.New(vaulterrors.KindDecryption, "vaultview: open data transaction", err)
	}
	dt, err := decodeDataTransaction(plaintext)
	if err != nil {
		return dataTransaction{}, vaulterrors.New(vaulterrors.KindInvalidTransaction, "vaultview: decode data transaction", err)
	}
	if !bytes.Equal(dt.RecordID[:], rid[:]) {
		return dataTransaction{}, vaulterrors.New(vaulterrors.KindInvalidTransaction, "vaultview: decode data transaction", fmt.Errorf("record id mismatch"))
	}
	return dt, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
