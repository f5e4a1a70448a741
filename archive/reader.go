// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package archive

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"text/tabwriter"

	"github.com/bpowers/scenestore/asset"
	"github.com/bpowers/scenestore/mmap"
)

// Reader provides access to the entries of a package.  It is safe for
// concurrent use.
type Reader struct {
	m      *mmap.Mapping
	data   []byte
	logger *slog.Logger

	mu       sync.RWMutex
	byName   map[string]Entry
	scanNext int64
	scanDone bool
	// scanned counts headers parsed by Find's shared scan
	scanned int

	closed atomic.Bool
}

// NewReader reads the package held in m, taking ownership of the handle.
func NewReader(m *mmap.Mapping, opts ...Option) (*Reader, error) {
	o := newOptions(opts)
	data := m.Data()
	if _, _, ok := readEntry(data, 0); !ok && !isEmpty(data) {
		_ = m.Close()
		return nil, fmt.Errorf("%w: no valid entry at the start of the file", ErrFormat)
	}
	return &Reader{
		m:      m,
		data:   data,
		logger: o.logger,
		byName: make(map[string]Entry),
	}, nil
}

// Open reads the package in a.  The asset remains owned by the caller and
// must outlive the Reader.
func Open(a asset.Asset, opts ...Option) (*Reader, error) {
	m, err := a.Buffer()
	if err != nil {
		return nil, fmt.Errorf("a.Buffer: %w", err)
	}
	return NewReader(m, opts...)
}

// IsPackage reports whether b starts like a package.
func IsPackage(b []byte) bool {
	return len(b) >= 4 && binary.LittleEndian.Uint32(b) == localHeaderSig
}

// isEmpty reports whether b holds a package without entries.
func isEmpty(b []byte) bool {
	return len(b) == endRecordSize && binary.LittleEndian.Uint32(b) == endRecordSig
}

// readEntry parses the local header at off, returning the entry and the
// offset just past its data.  ok is false if no complete entry is there.
func readEntry(data []byte, off int64) (e Entry, next int64, ok bool) {
	if off < 0 || int64(len(data))-off < localHeaderSize {
		return Entry{}, 0, false
	}
	h := data[off : off+localHeaderSize]
	if binary.LittleEndian.Uint32(h) != localHeaderSig {
		return Entry{}, 0, false
	}
	flags := binary.LittleEndian.Uint16(h[6:])
	method := binary.LittleEndian.Uint16(h[8:])
	modTime := binary.LittleEndian.Uint16(h[10:])
	modDate := binary.LittleEndian.Uint16(h[12:])
	crc := binary.LittleEndian.Uint32(h[14:])
	size := int64(binary.LittleEndian.Uint32(h[18:]))
	uncompressed := int64(binary.LittleEndian.Uint32(h[22:]))
	nameLen := int64(binary.LittleEndian.Uint16(h[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(h[28:]))

	nameOff := off + localHeaderSize
	dataOff := nameOff + nameLen + extraLen
	if dataOff+size > int64(len(data)) {
		return Entry{}, 0, false
	}
	return Entry{
		Name:             string(data[nameOff : nameOff+nameLen]),
		HeaderOffset:     off,
		DataOffset:       dataOff,
		Size:             size,
		UncompressedSize: uncompressed,
		CRC32:            crc,
		Method:           method,
		Encrypted:        flags&flagEncrypted != 0,
		ModTime:          fromDOSDateTime(modTime, modDate),
	}, dataOff + size, true
}

// Iterator walks a package's entries in file order.
type Iterator struct {
	r    *Reader
	next int64
	done bool
}

// Entries returns an iterator positioned at the first entry.
func (r *Reader) Entries() *Iterator {
	return &Iterator{r: r}
}

// Next returns the next entry.  Iteration ends at the first offset that
// does not hold a valid local header, which is normally the central
// directory, or once the Reader is closed.
func (it *Iterator) Next() (Entry, bool) {
	if it.done || it.r.closed.Load() {
		it.done = true
		return Entry{}, false
	}
	e, next, ok := readEntry(it.r.data, it.next)
	if !ok {
		it.done = true
		return Entry{}, false
	}
	it.next = next
	return e, true
}

// Find returns the first entry named name.  Lookups share a single lazy
// scan of the package, so each header is parsed at most once no matter
// how many goroutines search concurrently.  A closed Reader finds nothing.
func (r *Reader) Find(name string) (Entry, bool) {
	if r.closed.Load() {
		return Entry{}, false
	}
	r.mu.RLock()
	e, ok := r.byName[name]
	done := r.scanDone
	r.mu.RUnlock()
	if ok {
		return e, true
	}
	if done {
		return Entry{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another goroutine may have scanned past it while we waited
	if e, ok := r.byName[name]; ok {
		return e, true
	}
	for !r.scanDone && !r.closed.Load() {
		e, next, ok := readEntry(r.data, r.scanNext)
		if !ok {
			r.scanDone = true
			r.logger.Debug("package scan complete", "entries", r.scanned)
			break
		}
		r.scanned++
		r.scanNext = next
		if _, dup := r.byName[e.Name]; dup {
			continue
		}
		r.byName[e.Name] = e
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Data returns the stored bytes of e.  The slice aliases the package and is
// only valid until the Reader is closed.
func (r *Reader) Data(e Entry) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if e.DataOffset < 0 || e.Size < 0 || e.DataOffset+e.Size > int64(len(r.data)) {
		return nil, fmt.Errorf("%w: entry %q outside of package", ErrFormat, e.Name)
	}
	return r.data[e.DataOffset : e.DataOffset+e.Size], nil
}

// ReadFile returns the stored bytes of the entry named name.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	e, ok := r.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.Data(e)
}

// Verify checks that e is stored uncompressed and unencrypted, and that its
// bytes match the recorded checksum.
func (r *Reader) Verify(e Entry) error {
	if e.Method != methodStore {
		return fmt.Errorf("%w: entry %q uses compression method %d", ErrFormat, e.Name, e.Method)
	}
	if e.Encrypted {
		return fmt.Errorf("%w: entry %q is encrypted", ErrFormat, e.Name)
	}
	if e.Size != e.UncompressedSize {
		return fmt.Errorf("%w: entry %q is %d bytes stored but %d uncompressed", ErrFormat, e.Name, e.Size, e.UncompressedSize)
	}
	b, err := r.Data(e)
	if err != nil {
		return err
	}
	if sum := crc32.ChecksumIEEE(b); sum != e.CRC32 {
		return fmt.Errorf("%w: entry %q has crc %08x, header says %08x", ErrChecksum, e.Name, sum, e.CRC32)
	}
	return nil
}

// DumpContents writes a table of every entry to w.
func (r *Reader) DumpContents(w io.Writer) error {
	if r.closed.Load() {
		return ErrClosed
	}
	// every cell, Name included, is tab terminated so right alignment pads
	// between columns
	tw := tabwriter.NewWriter(w, 10, 4, 2, ' ', tabwriter.AlignRight)
	if _, err := io.WriteString(tw, "Offset\tComp\tUncomp\tName\t\n------\t----\t------\t----\t\n"); err != nil {
		return err
	}
	n := 0
	for it := r.Entries(); ; n++ {
		e, ok := it.Next()
		if !ok {
			break
		}
		if _, err := fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t\n", e.DataOffset, e.Size, e.UncompressedSize, e.Name); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "----------\n%d files total\n", n)
	return err
}

// Close releases the package's mapping.  Slices returned by Data must not
// be used afterwards.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.m.Close()
}
