// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package archive

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bpowers/scenestore/asset"
	"github.com/bpowers/scenestore/mmap"
)

type stringSet map[string]struct{}

func (set stringSet) Contains(s string) bool {
	_, ok := set[s]
	return ok
}

func (set stringSet) Add(s string) {
	set[s] = struct{}{}
}

type writtenEntry struct {
	name string
	h    localHeader
	off  uint32
}

// Writer appends entries to a new package.  Entries cannot be removed or
// replaced once added.
type Writer struct {
	w      *bufio.Writer
	out    *asset.Output
	logger *slog.Logger

	off     int64
	entries []writtenEntry
	names   stringSet
	scratch []byte
	closed  bool
}

// Create starts a package at path.  Nothing is visible at path until Save.
func Create(path string, opts ...Option) (*Writer, error) {
	out, err := asset.OpenForWrite(path, asset.Replace)
	if err != nil {
		return nil, err
	}
	w := NewWriter(out, opts...)
	w.out = out
	return w, nil
}

// NewWriter writes a package to w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	o := newOptions(opts)
	return &Writer{
		w:      bufio.NewWriter(w),
		logger: o.logger,
		names:  make(stringSet),
	}
}

// sanitizeName converts a filesystem path into the relative, slash
// separated form entry names use.
func sanitizeName(name string) (string, error) {
	orig := name
	name = filepath.ToSlash(name[len(filepath.VolumeName(name)):])
	name = strings.TrimLeft(path.Clean(name), "/")
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, "../") {
		return "", fmt.Errorf("%q is not a valid entry name", orig)
	}
	if len(name) > maxNameLen {
		return "", fmt.Errorf("entry name %q is too long", name)
	}
	return name, nil
}

// Add stores data under name and returns the name it was stored as.  If an
// entry with that name already exists nothing is written.
func (w *Writer) Add(name string, data []byte, modTime time.Time) (string, error) {
	if w.closed {
		return "", ErrClosed
	}
	name, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	if w.names.Contains(name) {
		w.logger.Warn("skipping duplicate package entry", "name", name)
		return name, nil
	}
	if len(w.entries) >= 1<<16-1 {
		return "", fmt.Errorf("too many entries to add %q", name)
	}
	if int64(len(data)) > maxOffset {
		return "", fmt.Errorf("entry %q is too large (%d bytes)", name, len(data))
	}

	extraLen := paddingSize(w.off + localHeaderSize + int64(len(name)))
	if end := w.off + localHeaderSize + int64(len(name)) + int64(extraLen) + int64(len(data)); end > maxOffset {
		return "", fmt.Errorf("adding %q would grow the package past 4 GiB", name)
	}

	dosTime, dosDate := dosDateTime(modTime)
	h := localHeader{
		method:           methodStore,
		modTime:          dosTime,
		modDate:          dosDate,
		crc32:            crc32.ChecksumIEEE(data),
		size:             uint32(len(data)),
		uncompressedSize: uint32(len(data)),
		nameLen:          uint16(len(name)),
		extraLen:         extraLen,
	}

	b := h.appendTo(w.scratch[:0])
	b = append(b, name...)
	b = appendPadding(b, extraLen)
	w.scratch = b
	if _, err := w.w.Write(b); err != nil {
		return "", fmt.Errorf("writing header for %q: %w", name, err)
	}
	if _, err := w.w.Write(data); err != nil {
		return "", fmt.Errorf("writing %q: %w", name, err)
	}

	w.entries = append(w.entries, writtenEntry{name: name, h: h, off: uint32(w.off)})
	w.names.Add(name)
	w.off += int64(len(b)) + int64(len(data))
	return name, nil
}

// AddFile stores the file at filePath under name, or under filePath itself
// if name is empty.
func (w *Writer) AddFile(filePath, name string) (string, error) {
	if name == "" {
		name = filePath
	}
	stat, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("os.Stat: %w", err)
	}
	m, err := mmap.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = m.Close() }()
	return w.Add(name, m.Data(), stat.ModTime())
}

// Save writes the central directory and makes the package visible.
func (w *Writer) Save() error {
	if w.closed {
		return ErrClosed
	}
	if err := w.finish(); err != nil {
		_ = w.Discard()
		return err
	}
	w.closed = true
	if w.out != nil {
		if err := w.out.Close(); err != nil {
			return fmt.Errorf("committing %s: %w", w.out.Name(), err)
		}
	}
	w.logger.Debug("saved package", "entries", len(w.entries), "size", w.off)
	return nil
}

func (w *Writer) finish() error {
	dirOff := w.off
	b := w.scratch[:0]
	for i := range w.entries {
		e := &w.entries[i]
		b = appendCentralHeader(b, &e.h, e.off, e.name)
	}
	dirLen := int64(len(b))
	if dirOff+dirLen > maxOffset {
		return fmt.Errorf("central directory would end past 4 GiB")
	}
	b = appendEndRecord(b, len(w.entries), uint32(dirOff), uint32(dirLen))
	w.scratch = b
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("writing central directory: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	w.off += int64(len(b))
	return nil
}

// Discard abandons the package.  It is safe to call after Save.
func (w *Writer) Discard() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.out != nil {
		return w.out.Discard()
	}
	return nil
}
