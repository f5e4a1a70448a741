// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package asset

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/bpowers/scenestore/mmap"
)

// section is a sub-range of a parent asset, such as an entry stored
// uncompressed inside a package.
type section struct {
	parent    Asset
	off, size int64
	owner     io.Closer
	closed    atomic.Bool
}

// Section returns an asset exposing [off, off+size) of parent.  If owner is
// non-nil it is closed along with the section, which lets a section keep
// its containing package open for as long as it is in use.
func Section(parent Asset, off, size int64, owner io.Closer) (Asset, error) {
	if off < 0 || size < 0 || off > parent.Size() || size > parent.Size()-off {
		return nil, fmt.Errorf("section [%d, %d+%d) outside asset of %d bytes", off, off, size, parent.Size())
	}
	return &section{parent: parent, off: off, size: size, owner: owner}, nil
}

func (s *section) Size() int64 {
	return s.size
}

func (s *section) ReadAt(p []byte, off int64) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 || off > s.size {
		return 0, fmt.Errorf("read at %d outside section of %d bytes", off, s.size)
	}
	var eof bool
	if remain := s.size - off; int64(len(p)) > remain {
		p = p[:remain]
		eof = true
	}
	n, err := s.parent.ReadAt(p, s.off+off)
	if err == nil && eof {
		err = io.EOF
	}
	return n, err
}

func (s *section) Buffer() (*mmap.Mapping, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	m, err := s.parent.Buffer()
	if err != nil {
		return nil, err
	}
	sub, err := m.Slice(s.off, s.size)
	// sub co-owns the region, so the parent's handle can go
	if cerr := m.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if sub != nil {
			_ = sub.Close()
		}
		return nil, err
	}
	return sub, nil
}

func (s *section) File() (*os.File, int64) {
	f, base := s.parent.File()
	if f == nil {
		return nil, 0
	}
	return f, base + s.off
}

func (s *section) Close() error {
	if s.closed.Swap(true) || s.owner == nil {
		return nil
	}
	return s.owner.Close()
}
