package memguard

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the fixed secret width NonContiguousMemory encodes — the output
// size of the Blake2b-256 hash primitive it's built on.
const Size = 32

// NonContiguousMemory splits a 32-byte secret into two independently
// guarded shards such that neither shard alone reveals the secret:
//
//	secret = Blake2b256(s1) XOR s2
//
// The shards are refreshed (re-randomized, invariant-preserving) on every
// Unlock so a secret never sits behind the same pair of shard values for
// more than one read.
type NonContiguousMemory struct {
	s1 *Buffer
	s2 *Buffer
}

// New draws a random s1, derives s2 = Blake2b256(s1) XOR payload, and stores
// each shard in its own guarded region. payload must be exactly Size bytes.
func New(payload []byte) (*NonContiguousMemory, error) {
	if len(payload) != Size {
		return nil, fmt.Errorf("memguard: non-contiguous payload must be %d bytes, got %d", Size, len(payload))
	}

	s1, s2, err := shardsFor(payload)
	if err != nil {
		return nil, err
	}

	b1, err := AllocFromBytes(s1)
	if err != nil {
		return nil, err
	}
	b2, err := AllocFromBytes(s2)
	if err != nil {
		b1.Close()
		return nil, err
	}

	nc := &NonContiguousMemory{s1: b1, s2: b2}
	if err := nc.assertShardSeparation(); err != nil {
		nc.Close()
		return nil, err
	}
	return nc, nil
}

// shardsFor draws a random s1 and computes s2 = Blake2b256(s1) XOR payload.
func shardsFor(payload []byte) (s1, s2 []byte, err error) {
	s1 = make([]byte, Size)
	if _, err := rand.Read(s1); err != nil {
		return nil, nil, fmt.Errorf("memguard: drawing shard 1: %w", err)
	}
	h1 := blake2b.Sum256(s1)
	s2 = make([]byte, Size)
	for i := range s2 {
		s2[i] = h1[i] ^ payload[i]
	}
	return s1, s2, nil
}

// Unlock reconstructs the secret into a fresh guarded Buffer, then refreshes
// the shards so the pair of values backing the secret never survives past a
// single read.
func (nc *NonContiguousMemory) Unlock() (*Buffer, error) {
	var secret [Size]byte
	var h1 [Size]byte

	if err := nc.s1.View(func(s1 []byte) error {
		h1 = blake2b.Sum256(s1)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := nc.s2.View(func(s2 []byte) error {
		for i := range secret {
			secret[i] = h1[i] ^ s2[i]
		}
		return nil
	}); err != nil {
		return nil, err
	}

	out, err := AllocFromBytes(secret[:])
	for i := range secret {
		secret[i] = 0
	}
	if err != nil {
		return nil, err
	}

	if err := nc.Refresh(); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// Refresh re-randomizes both shards while preserving
// secret = Blake2b256(s1) XOR s2, then atomically swaps in the new shards
// and releases the old ones (which zeroizes them).
func (nc *NonContiguousMemory) Refresh() error {
	r := make([]byte, Size)
	if _, err := rand.Read(r); err != nil {
		return fmt.Errorf("memguard: drawing refresh entropy: %w", err)
	}

	var s1, s1New [Size]byte
	var h1, h1New [Size]byte
	if err := nc.s1.View(func(buf []byte) error {
		copy(s1[:], buf)
		return nil
	}); err != nil {
		return err
	}
	h1 = blake2b.Sum256(s1[:])
	for i := range s1New {
		s1New[i] = s1[i] ^ r[i]
	}
	h1New = blake2b.Sum256(s1New[:])

	var s2, s2New [Size]byte
	if err := nc.s2.View(func(buf []byte) error {
		copy(s2[:], buf)
		return nil
	}); err != nil {
		return err
	}
	for i := range s2New {
		// s2' = s2 XOR Blake2b(s1) XOR Blake2b(s1') preserves
		// Blake2b(s1') XOR s2' == Blake2b(s1) XOR s2 == secret.
		s2New[i] = s2[i] ^ h1[i] ^ h1New[i]
	}

	newS1, err := AllocFromBytes(s1New[:])
	if err != nil {
		return err
	}
	newS2, err := AllocFromBytes(s2New[:])
	if err != nil {
		newS1.Close()
		return err
	}

	oldS1, oldS2 := nc.s1, nc.s2
	nc.s1, nc.s2 = newS1, newS2
	oldS1.Close()
	oldS2.Close()

	return nc.assertShardSeparation()
}

// assertShardSeparation enforces the tie-break rule: the two shards must
// live at least one page apart. In practice two independent mmaps are
// already guaranteed disjoint by at least their own guard pages, so this is
// a cheap invariant check rather than a retry loop.
func (nc *NonContiguousMemory) assertShardSeparation() error {
	d1 := nc.s1.region.base
	d2 := nc.s2.region.base
	delta := int64(d1) - int64(d2)
	if delta < 0 {
		delta = -delta
	}
	if delta < int64(pageSize) {
		return fmt.Errorf("memguard: shard allocations landed within one page of each other")
	}
	return nil
}

// PeekShard1 exposes shard 1's raw bytes to f. Exported only for tests that
// need to observe a refresh actually changing shard state; no production
// code outside this package should ever need a shard in isolation.
func (nc *NonContiguousMemory) PeekShard1(f func([]byte) error) error {
	return nc.s1.View(f)
}

// Close releases both shards.
func (nc *NonContiguousMemory) Close() {
	if nc.s1 != nil {
		nc.s1.Close()
	}
	if nc.s2 != nil {
		nc.s2.Close()
	}
}
