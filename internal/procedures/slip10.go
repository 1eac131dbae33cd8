package procedures

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
)

const (
	slip10KeySize       = 32
	slip10ChainCodeSize = 32
	extendedKeySize     = slip10KeySize + slip10ChainCodeSize

	hardenedOffset = uint32(1) << 31
)

// extendedKey is a SLIP-10 ed25519 extended private key: a 32-byte key and
// its 32-byte chain code, encoded as key||chainCode for storage in a vault
// record.
type extendedKey struct {
	key       [slip10KeySize]byte
	chainCode [slip10ChainCodeSize]byte
}

func (e extendedKey) encode() []byte {
	out := make([]byte, extendedKeySize)
	copy(out[:slip10KeySize], e.key[:])
	copy(out[slip10KeySize:], e.chainCode[:])
	return out
}

func decodeExtendedKey(b []byte) (extendedKey, error) {
	if len(b) != extendedKeySize {
		return extendedKey{}, fmt.Errorf("procedures: malformed extended key (%d bytes)", len(b))
	}
	var e extendedKey
	copy(e.key[:], b[:slip10KeySize])
	copy(e.chainCode[:], b[slip10KeySize:])
	return e, nil
}

// slip10MasterFromSeed derives the SLIP-10 ed25519 master key from a seed,
// per https://github.com/satoshilabs/slips/blob/master/slip-0010.md: the
// master key is HMAC-SHA512 with the fixed key "ed25519 seed".
func slip10MasterFromSeed(seed []byte) extendedKey {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	i := mac.Sum(nil)
	var e extendedKey
	copy(e.key[:], i[:32])
	copy(e.chainCode[:], i[32:])
	return e
}

// slip10CKDPriv derives ed25519 SLIP-10's only supported child type:
// hardened. index is always hardened regardless of its high bit, since
// ed25519 SLIP-10 never supports normal (public) derivation.
func slip10CKDPriv(parent extendedKey, index uint32) extendedKey {
	hardenedIndex := index | hardenedOffset

	data := make([]byte, 1+slip10KeySize+4)
	data[0] = 0x00
	copy(data[1:], parent.key[:])
	binary.BigEndian.PutUint32(data[1+slip10KeySize:], hardenedIndex)

	mac := hmac.New(sha512.New, parent.chainCode[:])
	mac.Write(data)
	i := mac.Sum(nil)

	var child extendedKey
	copy(child.key[:], i[:32])
	copy(child.chainCode[:], i[32:])
	return child
}

// slip10Derive walks chain from root, deriving one hardened child per
// index.
func slip10Derive(root extendedKey, chain []uint32) extendedKey {
	current := root
	for _, idx := range chain {
		current = slip10CKDPriv(current, idx)
	}
	return current
}
