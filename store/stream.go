// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
	"io"

	"github.com/bpowers/scenestore/mmap"
)

// stream is the byte source a Store reads from.
type stream interface {
	size() int64
	// bytes returns [off, off+n).  Mapped streams return a view into the
	// mapping that must not be retained past Close; others return a copy.
	bytes(off, n int64) ([]byte, error)
	// mapping returns the mapping behind the stream, or nil.
	mapping() *mmap.Mapping
	close() error
}

func checkRange(off, n, size int64) error {
	if off < 0 || n < 0 || off > size || n > size-off {
		return fmt.Errorf("range [%d, %d+%d) outside %d bytes", off, off, n, size)
	}
	return nil
}

type mappedStream struct {
	m *mmap.Mapping
}

func (s mappedStream) size() int64 {
	return int64(s.m.Len())
}

func (s mappedStream) bytes(off, n int64) ([]byte, error) {
	if err := checkRange(off, n, s.size()); err != nil {
		return nil, err
	}
	return s.m.Data()[off : off+n : off+n], nil
}

func (s mappedStream) mapping() *mmap.Mapping {
	return s.m
}

func (s mappedStream) close() error {
	return s.m.Close()
}

type preadStream struct {
	r io.ReaderAt
	n int64
}

func (s preadStream) size() int64 {
	return s.n
}

func (s preadStream) bytes(off, n int64) ([]byte, error) {
	if err := checkRange(off, n, s.n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	// ReaderAt may report io.EOF alongside a full read at the end of input
	if k, err := s.r.ReadAt(buf, off); k != len(buf) {
		return nil, fmt.Errorf("short read of %d ReadAt(%d, len: %d): %w", k, off, n, err)
	}
	return buf, nil
}

func (s preadStream) mapping() *mmap.Mapping {
	return nil
}

func (s preadStream) close() error {
	return nil
}
