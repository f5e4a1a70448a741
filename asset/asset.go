// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package asset provides the byte sources and sinks that stores and
// packages are read from and written to.
package asset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bpowers/scenestore/mmap"
)

var (
	ErrClosed   = errors.New("asset already closed")
	ErrNotFound = errors.New("asset not found")
)

// Asset is a readable, randomly addressable byte range.
type Asset interface {
	io.ReaderAt

	// Size returns the number of bytes in the asset.
	Size() int64
	// Buffer returns a mapping over the asset's bytes.  The caller owns the
	// returned handle and must Close it.
	Buffer() (*mmap.Mapping, error)
	// File returns the file backing the asset and the offset of the
	// asset's first byte within it, or nil if the asset is not file-backed.
	File() (f *os.File, base int64)
	Close() error
}

// Source opens assets by identifier.
type Source interface {
	Open(id string) (Asset, error)
}

// FileSource opens identifiers as paths on the local filesystem.
type FileSource struct{}

func (FileSource) Open(id string) (Asset, error) {
	return OpenFile(id)
}

// MemorySource serves assets from an in-memory map, mostly for tests.
type MemorySource map[string][]byte

func (s MemorySource) Open(id string) (Asset, error) {
	b, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return FromBytes(b), nil
}

// File is an asset backed by an on-disk file.  The file is only mapped the
// first time Buffer is called.
type File struct {
	f    *os.File
	size int64

	mapOnce sync.Once
	m       *mmap.Mapping
	mapErr  error

	closed atomic.Bool
}

// OpenFile opens the file at path as an asset.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	return &File{f: f, size: stat.Size()}, nil
}

func (a *File) Size() int64 {
	return a.size
}

func (a *File) ReadAt(p []byte, off int64) (int, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	return a.f.ReadAt(p, off)
}

func (a *File) Buffer() (*mmap.Mapping, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	a.mapOnce.Do(func() {
		a.m, a.mapErr = mmap.Map(a.f, a.size)
	})
	if a.mapErr != nil {
		return nil, a.mapErr
	}
	return a.m.Slice(0, a.size)
}

func (a *File) File() (*os.File, int64) {
	return a.f, 0
}

// Name returns the path the file was opened with.
func (a *File) Name() string {
	return a.f.Name()
}

func (a *File) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	// waits out a Buffer call that is mapping, and stops any later one
	a.mapOnce.Do(func() { a.mapErr = ErrClosed })
	var err error
	if a.m != nil {
		err = a.m.Close()
	}
	if cerr := a.f.Close(); err == nil {
		err = cerr
	}
	return err
}

type memory struct {
	b      []byte
	m      *mmap.Mapping
	closed atomic.Bool
}

// FromBytes returns an asset serving b.  b must not be modified afterwards.
func FromBytes(b []byte) Asset {
	return &memory{b: b, m: mmap.FromBytes(b)}
}

func (a *memory) Size() int64 {
	return int64(len(a.b))
}

func (a *memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(a.b)) {
		return 0, fmt.Errorf("read at %d outside asset of %d bytes", off, len(a.b))
	}
	n := copy(p, a.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (a *memory) Buffer() (*mmap.Mapping, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	return a.m.Slice(0, int64(len(a.b)))
}

func (a *memory) File() (*os.File, int64) {
	return nil, 0
}

func (a *memory) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.m.Close()
}
