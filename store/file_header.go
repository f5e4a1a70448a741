// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	fileHeaderSize = 8 + 8 + 8 + 8*8
	fileMagic      = "SCNSTORE"

	headerVersionOff = 8
	headerTOCOff     = 16
)

type fileHeader struct {
	version   Version
	tocOffset int64
}

func newFileHeader() *fileHeader {
	return &fileHeader{version: SoftwareVersion}
}

func (h *fileHeader) MarshalTo(buf []byte) error {
	if len(buf) < fileHeaderSize {
		return fmt.Errorf("buffer too short: %d < %d", len(buf), fileHeaderSize)
	}
	buf = buf[:fileHeaderSize]
	clear(buf)
	copy(buf[:8], fileMagic)
	buf[headerVersionOff] = h.version.Major
	buf[headerVersionOff+1] = h.version.Minor
	buf[headerVersionOff+2] = h.version.Patch
	binary.LittleEndian.PutUint64(buf[headerTOCOff:headerTOCOff+8], uint64(h.tocOffset))
	return nil
}

func (h *fileHeader) WriteTo(w io.Writer) (n int64, err error) {
	var headerBuf [fileHeaderSize]byte
	if err := h.MarshalTo(headerBuf[:]); err != nil {
		return 0, err
	}
	if _, err = w.Write(headerBuf[:]); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return int64(fileHeaderSize), nil
}

// UpdateTOCOffset patches the version and table of contents offset of an
// already-written header.
func (h *fileHeader) UpdateTOCOffset(off int64, w io.WriterAt) error {
	h.tocOffset = off
	h.version = SoftwareVersion

	var buf [16]byte
	buf[0] = h.version.Major
	buf[1] = h.version.Minor
	buf[2] = h.version.Patch
	binary.LittleEndian.PutUint64(buf[8:], uint64(off))
	if _, err := w.WriteAt(buf[:], headerVersionOff); err != nil {
		return fmt.Errorf("f.WriteAt: %w", err)
	}
	return nil
}

// UnmarshalBytes decodes a header.  Version compatibility is the caller's
// concern.
func (h *fileHeader) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < fileHeaderSize {
		return formatErrorf("header too short: %d < %d bytes", len(headerBytes), fileHeaderSize)
	}
	if string(headerBytes[:8]) != fileMagic {
		return formatErrorf("bad magic %q: not a scene store or corrupted", headerBytes[:8])
	}
	h.version = Version{
		Major: headerBytes[headerVersionOff],
		Minor: headerBytes[headerVersionOff+1],
		Patch: headerBytes[headerVersionOff+2],
	}
	h.tocOffset = int64(binary.LittleEndian.Uint64(headerBytes[headerTOCOff : headerTOCOff+8]))
	return nil
}

// IsStore reports whether b begins with a store header.
func IsStore(b []byte) bool {
	return len(b) >= len(fileMagic) && string(b[:len(fileMagic)]) == fileMagic
}
