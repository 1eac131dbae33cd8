package vaultview

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// exportedRecord and exportedVault mirror record/vault but with exported
// fields, so gob can walk them without reflection surprises on the
// unexported originals.
type exportedRecord struct {
	SealedData       []byte
	SealedBlob       []byte
	SealedRevocation []byte
}

type exportedVault struct {
	KeyDigest [32]byte
	Records   map[RecordID]exportedRecord
}

// Export serializes the entire view — every vault's key digest and every
// record's ciphertext — to a self-contained byte slice. Nothing here is
// plaintext secret material: keyDigest is one-way, and every record field is
// already AEAD ciphertext.
func (v *View) Export() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[VaultID]exportedVault, len(v.vaults))
	for vid, vlt := range v.vaults {
		vlt.mu.RLock()
		records := make(map[RecordID]exportedRecord, len(vlt.records))
		for rid, rec := range vlt.records {
			records[rid] = exportedRecord{
				SealedData:       rec.sealedData,
				SealedBlob:       rec.sealedBlob,
				SealedRevocation: rec.sealedRevocation,
			}
		}
		out[vid] = exportedVault{KeyDigest: vlt.keyDigest, Records: records}
		vlt.mu.RUnlock()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(out); err != nil {
		return nil, fmt.Errorf("vaultview: encode export: %w", err)
	}
	return buf.Bytes(), nil
}

// Import replaces the view's contents by decoding an Export payload.
func (v *View) Import(data []byte) error {
	var decoded map[VaultID]exportedVault
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		return fmt.Errorf("vaultview: decode import: %w", err)
	}

	vaults := make(map[VaultID]*vault, len(decoded))
	for vid, ev := range decoded {
		records := make(map[RecordID]*record, len(ev.Records))
		for rid, er := range ev.Records {
			records[rid] = &record{
				sealedData:       er.SealedData,
				sealedBlob:       er.SealedBlob,
				sealedRevocation: er.SealedRevocation,
			}
		}
		vaults[vid] = &vault{keyDigest: ev.KeyDigest, records: records}
	}

	v.mu.Lock()
	v.vaults = vaults
	v.mu.Unlock()
	return nil
}
