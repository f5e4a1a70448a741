// Copyright 2023 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package mmap

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

type rangeKey struct {
	off, n int
}

// rangeSource is shared by every reference to the same (offset, length).
// Entries are never removed from the registry; a zero count marks a range
// that is no longer in use.
type rangeSource struct {
	count atomic.Int64
}

// RangeRef keeps a byte range of a mapping readable after the mapping's
// owners have been closed.
type RangeRef struct {
	r        *region
	src      *rangeSource
	released atomic.Bool
}

// Release drops the reference.  It is safe to call more than once, and on a
// nil RangeRef.
func (rr *RangeRef) Release() error {
	if rr == nil || rr.src == nil || rr.released.Swap(true) {
		return nil
	}
	if rr.src.count.Add(-1) == 0 {
		return rr.r.release()
	}
	return nil
}

// AddRangeReference registers b, which must alias this handle's data, as in
// use by a caller.  The first reference to a given range co-owns the region.
func (m *Mapping) AddRangeReference(b []byte) (*RangeRef, error) {
	if m.r.detached.Load() {
		return nil, ErrDetached
	}
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if len(b) == 0 {
		return &RangeRef{}, nil
	}
	off, ok := m.r.offsetOf(b)
	if !ok {
		return nil, ErrForeignRange
	}

	v, _ := m.r.ranges.LoadOrStore(rangeKey{off: off, n: len(b)}, &rangeSource{})
	src := v.(*rangeSource)
	if src.count.Add(1) == 1 {
		m.r.refs.Add(1)
	}
	rr := &RangeRef{r: m.r, src: src}
	// detach sets detached before it walks the registry, so a range that
	// is counted before detached is observed false is always touched.
	if m.r.detached.Load() {
		_ = rr.Release()
		return nil, ErrDetached
	}
	return rr, nil
}

// Outstanding returns the number of distinct ranges currently referenced.
func (m *Mapping) Outstanding() int {
	n := 0
	m.r.ranges.Range(func(_, v any) bool {
		if v.(*rangeSource).count.Load() > 0 {
			n++
		}
		return true
	})
	return n
}

// Detached reports whether teardown of the underlying region has begun.
func (m *Mapping) Detached() bool {
	return m.r.detached.Load()
}

func (r *region) offsetOf(b []byte) (int, bool) {
	if len(r.data) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(r.data)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if p < base || p-base > uintptr(len(r.data)) || uintptr(len(b)) > uintptr(len(r.data))-(p-base) {
		return 0, false
	}
	return int(p - base), true
}

// detach copies every in-use range out of the file's page cache.  It must
// only run once no owner remains, so no reader can race with it.
func (r *region) detach() error {
	r.detached.Store(true)
	if !r.mapped {
		return nil
	}

	pageSize := os.Getpagesize()
	var firstErr error
	r.ranges.Range(func(k, v any) bool {
		if v.(*rangeSource).count.Load() == 0 {
			return true
		}
		key := k.(rangeKey)
		if err := r.touchPages(key.off, key.n, pageSize); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

func (r *region) touchPages(off, n, pageSize int) error {
	start := off &^ (pageSize - 1)
	end := (off + n + pageSize - 1) &^ (pageSize - 1)
	if end > len(r.data) {
		end = len(r.data)
	}
	pages := r.data[start:end]

	if err := unix.Mprotect(pages, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("mprotect(rw): %w", err)
	}
	// adding zero is a real store, which forces a private copy of the page
	for p := 0; p < len(pages); p += pageSize {
		atomic.AddUint32((*uint32)(unsafe.Pointer(&pages[p])), 0)
	}
	if err := unix.Mprotect(pages, unix.PROT_READ); err != nil {
		return fmt.Errorf("mprotect(r): %w", err)
	}
	return nil
}
