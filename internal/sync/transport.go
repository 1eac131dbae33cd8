package sync

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"fmt"

	"github.com/vaultworks/stronghold/internal/idhash"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// Bundle is the wire shape of an exported state handed to a remote peer: an
// ephemeral public key plus the ciphertext of the serialized, scoped
// export.
type Bundle struct {
	EphemeralPublicKey [32]byte
	Ciphertext         []byte
}

// ExportToSerializedState performs an ephemeral X25519 handshake against
// remotePublicKey, serializes exported, and encrypts it with the derived
// shared key.
func ExportToSerializedState(exported map[idhash.ID]ExportedClient, remotePublicKey [32]byte) (Bundle, error) {
	var ephemeralScalar [32]byte
	if _, err := rand.Read(ephemeralScalar[:]); err != nil {
		return Bundle{}, fmt.Errorf("sync: draw ephemeral scalar: %w", err)
	}
	ephemeralPub, err := curve25519.X25519(ephemeralScalar[:], curve25519.Basepoint)
	if err != nil {
		return Bundle{}, fmt.Errorf("sync: derive ephemeral public key: %w", err)
	}
	shared, err := curve25519.X25519(ephemeralScalar[:], remotePublicKey[:])
	if err != nil {
		return Bundle{}, fmt.Errorf("sync: derive shared secret: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(exported); err != nil {
		return Bundle{}, fmt.Errorf("sync: encode exported state: %w", err)
	}

	nonce := deriveTransportNonce(ephemeralPub, remotePublicKey[:])
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return Bundle{}, fmt.Errorf("sync: build aead: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, buf.Bytes(), nil)

	var bundle Bundle
	copy(bundle.EphemeralPublicKey[:], ephemeralPub)
	bundle.Ciphertext = ciphertext
	return bundle, nil
}

// ReceiveSerializedState reverses ExportToSerializedState using the
// receiver's own long-lived X25519 secret scalar.
func ReceiveSerializedState(bundle Bundle, localSecret [32]byte) (map[idhash.ID]ExportedClient, error) {
	localPub, err := curve25519.X25519(localSecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("sync: derive local public key: %w", err)
	}
	shared, err := curve25519.X25519(localSecret[:], bundle.EphemeralPublicKey[:])
	if err != nil {
		return nil, fmt.Errorf("sync: derive shared secret: %w", err)
	}

	nonce := deriveTransportNonce(bundle.EphemeralPublicKey[:], localPub)
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, fmt.Errorf("sync: build aead: %w", err)
	}
	plain, err := aead.Open(nil, nonce, bundle.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("sync: authentication failed: %w", err)
	}

	var exported map[idhash.ID]ExportedClient
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&exported); err != nil {
		return nil, fmt.Errorf("sync: decode exported state: %w", err)
	}
	return exported, nil
}

func deriveTransportNonce(ephemeralPub, staticPub []byte) []byte {
	h := blake2b.Sum256(append(append([]byte(nil), ephemeralPub...), staticPub...))
	return h[:chacha20poly1305.NonceSizeX]
}
