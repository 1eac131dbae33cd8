// Package memguard implements the guarded allocator and non-contiguous
// secret encoding described for the vault engine: page-aligned, mlocked,
// guard-paged byte regions that are zeroed before being released back to
// the operating system.
package memguard

import (
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/mlock"
	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// region is a single guarded mmap: a data slice of exactly the requested
// size, bracketed on both sides by a PROT_NONE guard page. base/total are
// needed at release time since data does not start at the mapping's base
// address.
type region struct {
	base  uintptr
	total int
	data  []byte
}

// allocGuarded mmaps size bytes of PROT_READ|PROT_WRITE, mlocked memory with
// one untouchable guard page immediately before and after it. size must be
// greater than zero.
//
// Algorithm (spec §4.1 "aligned"): since every guarded allocation in this
// engine stores raw secret bytes (alignment requirement of 1), page size
// trivially divides the alignment and the simple bracket-with-guard-pages
// layout always applies; the coprime-alignment failure branch in the
// general algorithm can never be reached here.
func allocGuarded(size int) (*region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memguard: alloc size must be positive, got %d", size)
	}

	dataRegionSize := roundUpToPage(size)
	total := pageSize + dataRegionSize + pageSize

	base, err := unix.Mmap(-1, 0, total, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("memguard: mmap %d bytes: %w", total, err)
	}
	baseAddr := uintptrOf(base)

	data := base[pageSize : pageSize+dataRegionSize]
	if err := unix.Mprotect(data, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		_ = unix.Munmap(base)
		return nil, fmt.Errorf("memguard: mprotect data region: %w", err)
	}
	if err := mlock.LockMemory(data); err != nil {
		_ = unix.Munmap(base)
		return nil, fmt.Errorf("memguard: mlock data region: %w", err)
	}
	// Narrow back to PROT_NONE immediately; callers unlock only for the
	// duration of a scoped read/write.
	if err := unix.Mprotect(data, unix.PROT_NONE); err != nil {
		_ = unix.Munlock(data)
		_ = unix.Munmap(base)
		return nil, fmt.Errorf("memguard: mprotect lock data region: %w", err)
	}

	return &region{
		base:  baseAddr,
		total: total,
		data:  data[:size:size],
	}, nil
}

// protect narrows or widens access to the data region for the duration of a
// caller-supplied scope. It always restores PROT_NONE afterwards, even if f
// panics.
func (r *region) protect(prot int, f func([]byte) error) error {
	if err := unix.Mprotect(r.data[:cap(r.data)], prot); err != nil {
		return fmt.Errorf("memguard: mprotect: %w", err)
	}
	defer func() {
		_ = unix.Mprotect(r.data[:cap(r.data)], unix.PROT_NONE)
	}()
	return f(r.data)
}

// release zeroes the data region, unlocks it, and unmaps the entire
// mapping including both guard pages.
func (r *region) release() {
	full := r.data[:cap(r.data)]
	_ = unix.Mprotect(full, unix.PROT_READ|unix.PROT_WRITE)
	for i := range full {
		full[i] = 0
	}
	_ = unix.Mprotect(full, unix.PROT_NONE)
	_ = unix.Munlock(full)

	base := sliceAtAddr(r.base, r.total)
	_ = unix.Munmap(base)
}

func roundUpToPage(n int) int {
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}
