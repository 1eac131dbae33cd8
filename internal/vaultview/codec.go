package vaultview

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/vaultworks/stronghold/internal/idhash"
	"golang.org/x/crypto/chacha20poly1305"
)

// dataTransaction is the small, cheap-to-decrypt record of a write: enough
// to list a record's hint and locate its blob without touching the blob
// itself. It is sealed under the vault key, keyed to recordID via AEAD
// associated data so a transaction can never be replayed against a
// different record id.
type dataTransaction struct {
	RecordID RecordID
	Length   uint32
	BlobID   RecordID
	Hint     RecordHint
}

const dataTransactionSize = idhash.Size*2 + 4 + RecordHintSize

func (dt dataTransaction) encode() []byte {
	buf := make([]byte, dataTransactionSize)
	off := 0
	copy(buf[off:], dt.RecordID[:])
	off += idhash.Size
	binary.BigEndian.PutUint32(buf[off:], dt.Length)
	off += 4
	copy(buf[off:], dt.BlobID[:])
	off += idhash.Size
	copy(buf[off:], dt.Hint[:])
	return buf
}

func decodeDataTransaction(buf []byte) (dataTransaction, error) {
	if len(buf) != dataTransactionSize {
		return dataTransaction{}, fmt.Errorf("vaultview: malformed data transaction (%d bytes)", len(buf))
	}
	var dt dataTransaction
	off := 0
	copy(dt.RecordID[:], buf[off:off+idhash.Size])
	off += idhash.Size
	dt.Length = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	copy(dt.BlobID[:], buf[off:off+idhash.Size])
	off += idhash.Size
	copy(dt.Hint[:], buf[off:off+RecordHintSize])
	return dt, nil
}

// seal AEAD-encrypts plaintext under key, binding associatedData, and
// returns nonce||ciphertext.
func seal(key, plaintext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("vaultview: build cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vaultview: draw nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, associatedData)
	return append(nonce, sealed...), nil
}

// open reverses seal, verifying associatedData matches what was sealed.
func open(key, sealed, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("vaultview: build cipher: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("vaultview: sealed payload truncated")
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	return aead.Open(nil, nonce, ciphertext, associatedData)
}
