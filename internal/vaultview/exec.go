package vaultview

import "github.com/vaultworks/stronghold/internal/memguard"

// ExecProc reads the record at (srcVault, srcRecord), guarded, runs f over
// its plaintext, and writes f's returned output to (dstVault, dstRecord)
// under dstHint. Source and destination may be the same record, in which
// case the write happens after the read buffer is released (f's result is
// held in ordinary memory and handed to Write or Update, which seal it under
// a fresh blob id; ExecProc does not zero that slice afterwards).
//
// Source and destination may live in different vaults, each authenticated
// with its own key — srcKey for the read, dstKey for the write.
func (v *View) ExecProc(
	srcKey []byte, srcVault VaultID, srcRecord RecordID,
	dstKey []byte, dstVault VaultID, dstRecord RecordID, dstHint RecordHint,
	f func(in []byte) (out []byte, result any, err error),
) (any, error) {
	var output []byte
	var result any

	err := v.GetGuard(srcKey, srcVault, srcRecord, func(buf *memguard.Buffer) error {
		return buf.View(func(in []byte) error {
			out, res, err := f(in)
			if err != nil {
				return err
			}
			output, result = out, res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if v.ContainsRecord(dstVault, dstRecord) {
		if err := v.Update(dstKey, dstVault, dstRecord, output); err != nil {
			return nil, err
		}
	} else {
		if err := v.Write(dstKey, dstVault, dstRecord, output, dstHint); err != nil {
			return nil, err
		}
	}
	return result, nil
}
