package stronghold

import (
	"fmt"

	"github.com/vaultworks/stronghold/internal/memguard"
	"github.com/vaultworks/stronghold/internal/snapshotcodec"
	"golang.org/x/crypto/blake2b"
)

// KeyProvider produces the 32-byte key a snapshot commit is sealed or
// opened under. The returned Buffer is the caller's to close.
type KeyProvider interface {
	Key() (*memguard.Buffer, error)
}

// KeyProviderFromBytes wraps an already-32-byte key. It fails key material
// of any other length rather than silently truncating or padding it.
func KeyProviderFromBytes(raw []byte) (KeyProvider, error) {
	if len(raw) != snapshotcodec.KeySize {
		return nil, fmt.Errorf("stronghold: raw key must be %d bytes, got %d", snapshotcodec.KeySize, len(raw))
	}
	return rawKeyProvider{key: append([]byte(nil), raw...)}, nil
}

type rawKeyProvider struct{ key []byte }

func (p rawKeyProvider) Key() (*memguard.Buffer, error) {
	return memguard.AllocFromBytes(append([]byte(nil), p.key...))
}

// KeyProviderFromPassphraseTruncated builds a KeyProvider that truncates or
// right-pads (with zero bytes) passphrase to exactly 32 bytes.
func KeyProviderFromPassphraseTruncated(passphrase string) KeyProvider {
	return passphraseKeyProvider{passphrase: passphrase, hash: false}
}

// KeyProviderFromPassphraseHashed builds a KeyProvider that derives the key
// as Blake2b256(passphrase).
func KeyProviderFromPassphraseHashed(passphrase string) KeyProvider {
	return passphraseKeyProvider{passphrase: passphrase, hash: true}
}

type passphraseKeyProvider struct {
	passphrase string
	hash       bool
}

func (p passphraseKeyProvider) Key() (*memguard.Buffer, error) {
	guarded, err := memguard.AllocFromBytes([]byte(p.passphrase))
	if err != nil {
		return nil, fmt.Errorf("stronghold: guard passphrase: %w", err)
	}
	defer guarded.Close()

	var key [snapshotcodec.KeySize]byte
	err = guarded.View(func(raw []byte) error {
		if p.hash {
			key = blake2b.Sum256(raw)
			return nil
		}
		n := copy(key[:], raw)
		for i := n; i < len(key); i++ {
			key[i] = 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()
	return memguard.AllocFromBytes(key[:])
}

// storedKeyProvider reads the snapshot key from a vault record, the variant
// implied by store_snapshot_key_at_location: a prior commit bound its key to
// a record inside the very client it protects.
type storedKeyProvider struct {
	client   *Client
	location Location
}

func (p storedKeyProvider) Key() (*memguard.Buffer, error) {
	var key *memguard.Buffer
	var copyErr error
	err := p.client.vaultGetGuard(p.location, func(plain []byte) error {
		key, copyErr = memguard.AllocFromBytes(append([]byte(nil), plain...))
		return copyErr
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}
