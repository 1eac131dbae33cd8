package snapshotstore

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealClientBlob AEAD-encrypts a client's serialized working state under
// its per-client key, returning nonce||ciphertext. This blob only ever
// lives in memory (the outer snapshot file gets its own ephemeral-X25519
// AEAD layer from snapshotcodec), so a plain random nonce is sufficient.
func sealClientBlob(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: build cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("snapshotstore: draw nonce: %w", err)
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

func openClientBlob(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: build cipher: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("snapshotstore: sealed client blob truncated")
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	return aead.Open(nil, nonce, ciphertext, nil)
}
