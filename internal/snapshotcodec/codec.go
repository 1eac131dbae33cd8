// Package snapshotcodec implements the snapshot file's wire format: an
// ephemeral-X25519-keyed XChaCha20-Poly1305 AEAD wrapper around a
// zstd-compressed plaintext, written atomically via a same-directory
// temp file and rename.
package snapshotcodec

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// Magic identifies a snapshot file. It spells out "PARTI" in the wire format inherited from the engine this codec replaces.
var Magic = [5]byte{0x50, 0x41, 0x52, 0x54, 0x49}

// Version is the current wire format version.
var Version = [2]byte{0x02, 0x00}

// KeySize is the width of a snapshot key, used as an X25519 scalar.
const KeySize = 32

const nonceSize = 24 // XChaCha20-Poly1305
const tagSize = 16   // Poly1305

const headerLen = len(Magic) + len(Version) + curve25519.PointSize + tagSize

// Write encrypts plain (after the caller has compressed it, if desired)
// under key and writes the framed snapshot to w: magic, version, ephemeral
// X25519 public key, Poly1305 tag, then XChaCha20 ciphertext.
//
// associatedData is bound into the AEAD tag but never stored; the reader
// must supply the same bytes to Read.
func Write(w io.Writer, plain, key, associatedData []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("snapshotcodec: key must be %d bytes, got %d", KeySize, len(key))
	}

	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if _, err := w.Write(Version[:]); err != nil {
		return err
	}

	var ephemeralScalar [KeySize]byte
	if err := randomScalar(ephemeralScalar[:]); err != nil {
		return err
	}
	ephemeralPub, err := curve25519.X25519(ephemeralScalar[:], curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("snapshotcodec: derive ephemeral public key: %w", err)
	}
	if _, err := w.Write(ephemeralPub); err != nil {
		return err
	}

	staticPub, err := curve25519.X25519(key, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("snapshotcodec: derive static public key: %w", err)
	}
	shared, err := curve25519.X25519(ephemeralScalar[:], staticPub)
	if err != nil {
		return fmt.Errorf("snapshotcodec: derive shared secret: %w", err)
	}

	nonce := deriveNonce(ephemeralPub, staticPub)

	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return fmt.Errorf("snapshotcodec: build aead: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plain, associatedData)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	if _, err := w.Write(tag); err != nil {
		return err
	}
	if _, err := w.Write(ciphertext); err != nil {
		return err
	}
	return nil
}

// Read reverses Write, verifying the header and AEAD tag, and returns the
// (still caller-compressed) plaintext.
func Read(r io.Reader, key, associatedData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("snapshotcodec: key must be %d bytes, got %d", KeySize, len(key))
	}

	var magic [5]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("snapshotcodec: read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("snapshotcodec: magic bytes mismatch, not a snapshot file")
	}

	var version [2]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, fmt.Errorf("snapshotcodec: read version: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("snapshotcodec: unsupported snapshot version %v", version)
	}

	ephemeralPub := make([]byte, curve25519.PointSize)
	if _, err := io.ReadFull(r, ephemeralPub); err != nil {
		return nil, fmt.Errorf("snapshotcodec: read ephemeral public key: %w", err)
	}

	staticPub, err := curve25519.X25519(key, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("snapshotcodec: derive static public key: %w", err)
	}
	shared, err := curve25519.X25519(key, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("snapshotcodec: derive shared secret: %w", err)
	}

	nonce := deriveNonce(ephemeralPub, staticPub)

	tag := make([]byte, tagSize)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, fmt.Errorf("snapshotcodec: read tag: %w", err)
	}
	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("snapshotcodec: read ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, fmt.Errorf("snapshotcodec: build aead: %w", err)
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plain, err := aead.Open(nil, nonce, sealed, associatedData)
	if err != nil {
		return nil, fmt.Errorf("snapshotcodec: authentication failed: %w", err)
	}
	return plain, nil
}

// deriveNonce matches the reference key schedule: the first nonceSize bytes
// of Blake2b256(ephemeral_pub || static_pub).
func deriveNonce(ephemeralPub, staticPub []byte) []byte {
	h := blake2b.Sum256(append(append([]byte(nil), ephemeralPub...), staticPub...))
	return h[:nonceSize]
}

// MinFileLen is the smallest byte length a well-formed snapshot file can
// have: header only, zero-length ciphertext.
const MinFileLen = headerLen

// randomScalar draws len(dst) bytes of entropy for use as an X25519 private
// scalar. X25519 clamps internally, so no masking is needed here.
func randomScalar(dst []byte) error {
	_, err := rand.Read(dst)
	return err
}
