// Copyright 2023 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap provides shared, reference-counted, read-only file mappings
// that can hand out zero-copy views of their contents.
//
// A region of mapped memory is co-owned by any number of Mapping handles
// (one per file, plus one per embedded sub-range handed out by Slice) and by
// every byte range a caller has registered with AddRangeReference.  When the
// last owning handle is closed, ranges that are still referenced are
// detached from the backing file: their pages are made writable on the
// private mapping and touched, so the kernel swaps in private copies and
// later writes to (or truncation of) the file cannot be observed through
// outstanding views.  The mapping itself is released once every range
// reference is gone.
package mmap

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var (
	ErrClosed       = errors.New("mapping handle already closed")
	ErrDetached     = errors.New("mapping is being torn down; no new ranges may be registered")
	ErrForeignRange = errors.New("range does not lie within the mapping")
)

type region struct {
	data   []byte
	mapped bool

	// refs counts owning handles plus in-use ranges.
	refs     atomic.Int64
	owners   atomic.Int64
	detached atomic.Bool
	unmapped atomic.Bool

	ranges sync.Map // rangeKey -> *rangeSource
}

func (r *region) release() error {
	if r.refs.Add(-1) != 0 {
		return nil
	}
	// a registration racing teardown can briefly raise refs from zero
	// after the region is gone; only the first drop to zero unmaps
	if !r.mapped || !r.unmapped.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// Mapping is an owning handle onto a (sub-range of a) shared mapped region.
type Mapping struct {
	r      *region
	data   []byte
	closed atomic.Bool
}

func newOwner(r *region, data []byte) *Mapping {
	r.owners.Add(1)
	r.refs.Add(1)
	return &Mapping{r: r, data: data}
}

// Open maps the file at path read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}
	// the mapping stays valid after the descriptor is closed
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	return Map(f, stat.Size())
}

// Map maps the first size bytes of f.  Pages are mapped private so they can
// later be detached from the file without affecting it.
func Map(f *os.File, size int64) (*Mapping, error) {
	if size == 0 {
		return FromBytes(nil), nil
	}
	if size < 0 || size > math.MaxInt {
		return nil, fmt.Errorf("cannot map %d bytes", size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap(%s): %w", f.Name(), err)
	}
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("madvise: %w", err)
	}

	return newOwner(&region{data: data, mapped: true}, data), nil
}

// FromBytes wraps heap memory in a Mapping so in-memory sources can be
// served through the same interface as mapped files.  Detaching is a no-op.
func FromBytes(b []byte) *Mapping {
	return newOwner(&region{data: b}, b)
}

// Data returns the bytes covered by this handle.  It must not be modified,
// and it must not be used after Close unless a range reference is held.
func (m *Mapping) Data() []byte {
	return m.data
}

// Len returns the number of bytes covered by this handle.
func (m *Mapping) Len() int {
	return len(m.data)
}

// Slice returns a new co-owning handle over [off, off+n) of this handle.
// The region stays mapped until both handles are closed.
func (m *Mapping) Slice(off, n int64) (*Mapping, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 || off > int64(len(m.data)) || n > int64(len(m.data))-off {
		return nil, fmt.Errorf("slice [%d, %d+%d) outside mapping of %d bytes", off, off, n, len(m.data))
	}
	return newOwner(m.r, m.data[off:off+n:off+n]), nil
}

// Close releases this handle.  Closing the last owning handle of a region
// detaches every range still referenced before the region can be unmapped.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	var err error
	if m.r.owners.Add(-1) == 0 {
		err = m.r.detach()
	}
	if rerr := m.r.release(); err == nil {
		err = rerr
	}
	return err
}
