package memguard

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a page-aligned, guard-paged, mlocked byte region that is zeroed
// on release. It corresponds to the engine's Buffer<u8> — every secret this
// engine ever holds in memory, whether a vault key, a decrypted record
// blob, or a shard of a NonContiguousMemory, lives in one of these.
//
// A Buffer starts, and always returns to, PROT_NONE between scoped accesses;
// View/Modify narrow protection only for the lifetime of the callback.
type Buffer struct {
	mu     sync.Mutex
	region *region
	closed bool
}

// Alloc allocates a zeroed guarded Buffer of the given length. length must
// be positive — the spec treats a zero-length allocation as a caller error.
func Alloc(length int) (*Buffer, error) {
	r, err := allocGuarded(length)
	if err != nil {
		return nil, err
	}
	b := &Buffer{region: r}
	runtime.SetFinalizer(b, (*Buffer).Close)
	return b, nil
}

// AllocFromBytes allocates a guarded Buffer and copies payload into it, then
// zeroes payload's original backing storage. The caller's slice can no
// longer be trusted to hold the secret once this returns — reading it again
// only proves the zeroing, not the secret's former content.
func AllocFromBytes(payload []byte) (*Buffer, error) {
	b, err := Alloc(len(payload))
	if err != nil {
		return nil, err
	}
	if err := b.Modify(func(p []byte) error {
		copy(p, payload)
		return nil
	}); err != nil {
		b.Close()
		return nil, err
	}
	for i := range payload {
		payload[i] = 0
	}
	return b, nil
}

// Len returns the buffer's length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.region.data)
}

// View runs f with the buffer opened PROT_READ. Protection reverts to
// PROT_NONE as soon as f returns, even if f returns an error or panics.
func (b *Buffer) View(f func([]byte) error) error {
	return b.scoped(unix.PROT_READ, f)
}

// Modify runs f with the buffer opened PROT_READ|PROT_WRITE. Protection
// reverts to PROT_NONE as soon as f returns.
func (b *Buffer) Modify(f func([]byte) error) error {
	return b.scoped(unix.PROT_READ|unix.PROT_WRITE, f)
}

func (b *Buffer) scoped(prot int, f func([]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("memguard: use of buffer after Close")
	}
	return b.region.protect(prot, f)
}

// Copy returns a new Buffer holding an independent copy of this one's
// contents.
func (b *Buffer) Copy() (*Buffer, error) {
	out, err := Alloc(b.Len())
	if err != nil {
		return nil, err
	}
	err = b.View(func(src []byte) error {
		return out.Modify(func(dst []byte) error {
			copy(dst, src)
			return nil
		})
	})
	if err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// Close zeroes the buffer's contents and releases its memory back to the
// operating system. Close is idempotent; it is safe to call more than once
// and safe to let the finalizer call it instead, though callers that hold a
// secret should always Close explicitly as soon as they are done with it.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	runtime.SetFinalizer(b, nil)
	b.region.release()
	b.region = nil
}
