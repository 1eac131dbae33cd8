package snapshotcodec

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// WriteFile zstd-compresses plain, encrypts it with Write, and persists the
// result atomically: a sibling temp file (same directory, random hex
// suffix) is written, fsynced, then renamed over path.
func WriteFile(path string, plain, key, associatedData []byte) error {
	compressed, err := compress(plain)
	if err != nil {
		return fmt.Errorf("snapshotcodec: compress: %w", err)
	}

	var salt [6]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("snapshotcodec: draw temp file salt: %w", err)
	}
	tmp := path + "." + hex.EncodeToString(salt[:])

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("snapshotcodec: create temp file: %w", err)
	}
	defer os.Remove(tmp) // no-op after a successful rename

	if err := Write(f, compressed, key, associatedData); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("snapshotcodec: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshotcodec: close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshotcodec: rename into place: %w", err)
	}
	return nil
}

// ReadFile reverses WriteFile: decrypts and decompresses the snapshot at
// path.
func ReadFile(path string, key, associatedData []byte) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("snapshotcodec: stat: %w", err)
	}
	if info.Size() < int64(MinFileLen) {
		return nil, fmt.Errorf("snapshotcodec: snapshot at %s is too short to be valid", filepath.Clean(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshotcodec: open: %w", err)
	}
	defer f.Close()

	plain, err := Read(f, key, associatedData)
	if err != nil {
		return nil, err
	}
	return decompress(plain)
}

func compress(plain []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(plain, nil), nil
}

func decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshotcodec: decompress: %w", err)
	}
	return out, nil
}
