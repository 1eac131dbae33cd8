package procedures

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/tyler-smith/go-bip39"
	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/vaultview"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

const (
	defaultSlip10SeedSize = 64
	minSlip10SeedSize     = 32
	maxSlip10SeedSize     = 128
)

// KeyVariant selects the asymmetric key algorithm a procedure operates on.
type KeyVariant int

const (
	Ed25519 KeyVariant = iota
	X25519
)

// HashVariant selects the digest algorithm Hash computes.
type HashVariant int

const (
	Blake2b256 HashVariant = iota
	SHA256
)

// Output describes where a procedure writes its result.
type Output struct {
	Vault  idhash.ID
	Record idhash.ID
	Hint   vaultview.RecordHint
}

// Slip10Generate writes a fresh random seed (Size bytes, default 64,
// range [32, 128]) to Output.
type Slip10Generate struct {
	Size   int
	Output Output
}

func (p Slip10Generate) Execute(rt *Runner) (any, error) {
	size := p.Size
	if size == 0 {
		size = defaultSlip10SeedSize
	}
	if size < minSlip10SeedSize || size > maxSlip10SeedSize {
		return nil, fmt.Errorf("procedures: slip10 seed size must be in [%d, %d], got %d", minSlip10SeedSize, maxSlip10SeedSize, size)
	}

	seed := make([]byte, size)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("procedures: draw seed: %w", err)
	}
	if err := rt.writeRecord(p.Output.Vault, p.Output.Record, p.Output.Hint, seed); err != nil {
		return nil, err
	}
	return nil, nil
}

// Bip39Generate draws fresh entropy, encodes it as a BIP-39 mnemonic in
// Lang, derives the seed (with Passphrase) and writes it to Output. It
// returns the mnemonic.
type Bip39Generate struct {
	Lang       string
	Passphrase string
	Output     Output
}

func (p Bip39Generate) Execute(rt *Runner) (any, error) {
	if err := requireEnglish(p.Lang); err != nil {
		return nil, err
	}

	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, fmt.Errorf("procedures: draw bip39 entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("procedures: build bip39 mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, p.Passphrase)

	if err := rt.writeRecord(p.Output.Vault, p.Output.Record, p.Output.Hint, seed); err != nil {
		return nil, err
	}
	return mnemonic, nil
}

// Bip39Recover re-derives a seed from a caller-supplied mnemonic and writes
// it to Output.
type Bip39Recover struct {
	Lang       string
	Mnemonic   string
	Passphrase string
	Output     Output
}

func (p Bip39Recover) Execute(rt *Runner) (any, error) {
	if err := requireEnglish(p.Lang); err != nil {
		return nil, err
	}
	if !bip39.IsMnemonicValid(p.Mnemonic) {
		return nil, fmt.Errorf("procedures: invalid bip39 mnemonic")
	}

	seed := bip39.NewSeed(p.Mnemonic, p.Passphrase)
	if err := rt.writeRecord(p.Output.Vault, p.Output.Record, p.Output.Hint, seed); err != nil {
		return nil, err
	}
	return nil, nil
}

func requireEnglish(lang string) error {
	switch lang {
	case "", "en", "english", "English":
		return nil
	default:
		return fmt.Errorf("procedures: bip39 wordlist %q is not available", lang)
	}
}

// Input describes where a procedure reads a vault record from.
type Input struct {
	Vault  idhash.ID
	Record idhash.ID
}

// Slip10Derive derives a hardened SLIP-10 ed25519 child key by walking
// Chain from Input, and writes the resulting extended key to Output. If
// IsSeed is true, Input holds a raw seed (from Slip10Generate or a BIP-39
// procedure) and the SLIP-10 master key is derived from it first;
// otherwise Input already holds an extended key from a prior
// Slip10Derive.
type Slip10Derive struct {
	Chain  []uint32
	IsSeed bool
	Input  Input
	Output Output
}

func (p Slip10Derive) Execute(rt *Runner) (any, error) {
	var root extendedKey
	var decodeErr error

	err := rt.readRecord(p.Input.Vault, p.Input.Record, func(plain []byte) error {
		if p.IsSeed {
			root = slip10MasterFromSeed(plain)
			return nil
		}
		root, decodeErr = decodeExtendedKey(plain)
		return decodeErr
	})
	if err != nil {
		return nil, err
	}

	child := slip10Derive(root, p.Chain)
	if err := rt.writeRecord(p.Output.Vault, p.Output.Record, p.Output.Hint, child.encode()); err != nil {
		return nil, err
	}
	return nil, nil
}

// GenerateKey writes a fresh asymmetric secret key to Output: a 64-byte
// crypto/ed25519 private key (seed||public) for Ed25519, or a 32-byte
// scalar for X25519.
type GenerateKey struct {
	Variant KeyVariant
	Output  Output
}

func (p GenerateKey) Execute(rt *Runner) (any, error) {
	var secret []byte
	switch p.Variant {
	case Ed25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("procedures: generate ed25519 key: %w", err)
		}
		secret = priv
	case X25519:
		scalar := make([]byte, 32)
		if _, err := rand.Read(scalar); err != nil {
			return nil, fmt.Errorf("procedures: generate x25519 key: %w", err)
		}
		secret = scalar
	default:
		return nil, fmt.Errorf("procedures: unknown key variant %d", p.Variant)
	}

	if err := rt.writeRecord(p.Output.Vault, p.Output.Record, p.Output.Hint, secret); err != nil {
		return nil, err
	}
	return nil, nil
}

// PublicKey reads a secret key record and returns its 32-byte public key.
type PublicKey struct {
	Variant KeyVariant
	Input   Input
}

func (p PublicKey) Execute(rt *Runner) (any, error) {
	var pub [32]byte
	err := rt.readRecord(p.Input.Vault, p.Input.Record, func(secret []byte) error {
		switch p.Variant {
		case Ed25519:
			if len(secret) != ed25519.PrivateKeySize {
				return fmt.Errorf("procedures: record is not an ed25519 private key (%d bytes)", len(secret))
			}
			copy(pub[:], ed25519.PrivateKey(secret).Public().(ed25519.PublicKey))
			return nil
		case X25519:
			out, err := curve25519.X25519(secret, curve25519.Basepoint)
			if err != nil {
				return fmt.Errorf("procedures: derive x25519 public key: %w", err)
			}
			copy(pub[:], out)
			return nil
		default:
			return fmt.Errorf("procedures: unknown key variant %d", p.Variant)
		}
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// Sign reads an Ed25519 secret key record and signs Message, returning a
// 64-byte signature.
type Sign struct {
	Input   Input
	Message []byte
}

func (p Sign) Execute(rt *Runner) (any, error) {
	var sig [ed25519.SignatureSize]byte
	err := rt.readRecord(p.Input.Vault, p.Input.Record, func(secret []byte) error {
		if len(secret) != ed25519.PrivateKeySize {
			return fmt.Errorf("procedures: record is not an ed25519 private key (%d bytes)", len(secret))
		}
		copy(sig[:], ed25519.Sign(ed25519.PrivateKey(secret), p.Message))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// X25519DiffieHellman reads an X25519 secret key record, computes the
// shared secret with PeerPublicKey, and writes it to Output.
type X25519DiffieHellman struct {
	Input         Input
	PeerPublicKey [32]byte
	Output        Output
}

func (p X25519DiffieHellman) Execute(rt *Runner) (any, error) {
	var shared []byte
	err := rt.readRecord(p.Input.Vault, p.Input.Record, func(secret []byte) error {
		out, err := curve25519.X25519(secret, p.PeerPublicKey[:])
		if err != nil {
			return fmt.Errorf("procedures: compute shared secret: %w", err)
		}
		shared = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := rt.writeRecord(p.Output.Vault, p.Output.Record, p.Output.Hint, shared); err != nil {
		return nil, err
	}
	return nil, nil
}

// Hash digests Message inline (no vault record involved) and returns the
// digest.
type Hash struct {
	Variant HashVariant
	Message []byte
}

func (p Hash) Execute(rt *Runner) (any, error) {
	switch p.Variant {
	case Blake2b256:
		sum := blake2b.Sum256(p.Message)
		return sum, nil
	case SHA256:
		sum := sha256.Sum256(p.Message)
		return sum, nil
	default:
		return nil, fmt.Errorf("procedures: unknown hash variant %d", p.Variant)
	}
}
