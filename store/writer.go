// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bpowers/scenestore/asset"
)

const defaultBufferSize = 1024 * 1024

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// FileWriter is usually an *os.File, but specified as an interface for easier testing.
type FileWriter interface {
	io.Writer
	io.WriterAt
}

type writerState int

const (
	stateWriting writerState = iota
	stateClosed
	stateDiscarded
)

type fieldEntry struct {
	token uint32
	rep   ValueRep
}

type specEntry struct {
	path     uint32
	fieldSet uint32
	kind     SpecKind
}

type deferredSpec struct {
	path     uint32
	kind     SpecKind
	ordinary []uint32
	pending  []Field
}

type unknownSection struct {
	name string
	data []byte
}

// Writer is a write session producing one store.  Specs are added with
// AddSpec; nothing is visible at the destination until Close succeeds.
// A Writer must not be used from multiple goroutines.
type Writer struct {
	f      FileWriter
	output *asset.Output
	h      *fileHeader
	w      *bufio.Writer
	off    int64
	state  writerState
	opts   writerOptions
	logger *slog.Logger

	tables
	specs     []specEntry
	specPaths map[uint32]struct{}
	deferred  []deferredSpec
	unknown   []unknownSection
	dedup     valueDedup

	// prior is the store being updated in place, if any.
	prior *Store
}

// Create starts a write session for a new store at path.  The store is
// written to a temporary file and renamed over path by Close.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	out, err := asset.OpenForWrite(path, asset.Replace)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	w, err := newWriter(out, 0, opts)
	if err != nil {
		_ = out.Discard()
		return nil, err
	}
	w.output = out
	return w, nil
}

// NewWriter starts a write session on f.  Close flushes, but does not close, f.
func NewWriter(f FileWriter, opts ...WriterOption) (*Writer, error) {
	return newWriter(f, 0, opts)
}

// newWriter writes a fresh header when start is 0, and otherwise appends
// after start bytes that already hold a header.
func newWriter(f FileWriter, start int64, opts []WriterOption) (*Writer, error) {
	options := newWriterOptions(opts)
	w := &Writer{
		f:         f,
		h:         newFileHeader(),
		w:         bufio.NewWriterSize(f, defaultBufferSize),
		off:       start,
		opts:      options,
		logger:    options.logger,
		tables:    newTables(),
		specPaths: make(map[uint32]struct{}),
		dedup:     make(valueDedup),
	}

	if start == 0 {
		headerLen, err := w.h.WriteTo(w.w)
		if err != nil {
			return nil, fmt.Errorf("fileHeader.WriteTo: %w", err)
		}
		w.off = headerLen

		// try to expose errors when writing to the backing file early
		if err := w.w.Flush(); err != nil {
			return nil, fmt.Errorf("flush: %w", err)
		}
	}

	return w, nil
}

func (w *Writer) checkWriting() error {
	if w.state != stateWriting {
		return ErrClosed
	}
	return nil
}

// AddSpec adds the spec at path with the given fields.  Fields holding
// in-memory TimeSamples are packed at Close, grouped by sample time, and
// follow the spec's other fields.
func (w *Writer) AddSpec(path Path, kind SpecKind, fields []Field) error {
	if err := w.checkWriting(); err != nil {
		return err
	}
	if path.IsEmpty() {
		return errors.New("AddSpec: empty path")
	}
	if kind >= numSpecKinds {
		return fmt.Errorf("AddSpec(%s): unknown spec kind %d", path, kind)
	}

	pathIdx := w.addPath(path)
	if _, ok := w.specPaths[pathIdx]; ok {
		return fmt.Errorf("AddSpec(%s): spec already added", path)
	}

	ordinary := make([]uint32, 0, len(fields))
	var pending []Field
	for _, f := range fields {
		if ts, ok := f.Value.(TimeSamples); ok && (ts.src == nil || ts.src != w.prior) {
			if err := ts.validate(); err != nil {
				return fmt.Errorf("AddSpec(%s): field %q: %w", path, f.Name, err)
			}
			ts, err := ts.clone()
			if err != nil {
				return fmt.Errorf("AddSpec(%s): field %q: %w", path, f.Name, err)
			}
			pending = append(pending, Field{Name: f.Name, Value: ts})
			continue
		}
		idx, err := w.addField(f)
		if err != nil {
			return fmt.Errorf("AddSpec(%s): field %q: %w", path, f.Name, err)
		}
		ordinary = append(ordinary, idx)
	}

	w.specPaths[pathIdx] = struct{}{}
	if len(pending) > 0 {
		w.deferred = append(w.deferred, deferredSpec{
			path:     pathIdx,
			kind:     kind,
			ordinary: ordinary,
			pending:  pending,
		})
		return nil
	}
	w.specs = append(w.specs, specEntry{path: pathIdx, fieldSet: w.addFieldSet(ordinary), kind: kind})
	return nil
}

func (w *Writer) addField(f Field) (uint32, error) {
	token, err := w.addToken(f.Name)
	if err != nil {
		return 0, err
	}
	rep, err := w.pack(f.Value)
	if err != nil {
		return 0, err
	}
	return w.tables.addField(fieldEntry{token: token, rep: rep}), nil
}

func (w *Writer) write(b []byte) error {
	n, err := w.w.Write(b)
	w.off += int64(n)
	if err != nil {
		return fmt.Errorf("bufio.Write: %w", err)
	}
	return nil
}

var zeroes [8]byte

// align pads the output so the next write starts on an n-byte boundary.
func (w *Writer) align(n int64) error {
	if pad := (n - w.off%n) % n; pad > 0 {
		return w.write(zeroes[:pad])
	}
	return nil
}

func (w *Writer) writeSection(name string, data []byte) (Section, error) {
	if err := w.align(8); err != nil {
		return Section{}, err
	}
	s := Section{Name: name, Start: w.off, Size: int64(len(data))}
	if err := w.write(data); err != nil {
		return Section{}, fmt.Errorf("section %s: %w", name, err)
	}
	return s, nil
}

// Close packs deferred time samples, writes the structural sections and
// table of contents, and commits the store.  On failure the partially
// written store is discarded.  Closing a closed Writer is a no-op.
func (w *Writer) Close() error {
	switch w.state {
	case stateClosed:
		return nil
	case stateDiscarded:
		return ErrClosed
	}

	if err := w.finish(); err != nil {
		_ = w.Discard()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	w.state = stateClosed
	return nil
}

func (w *Writer) finish() error {
	nDeferred := len(w.deferred)
	if err := w.addDeferredSpecs(); err != nil {
		return fmt.Errorf("addDeferredSpecs: %w", err)
	}

	var sections []Section
	for _, u := range w.unknown {
		s, err := w.writeSection(u.name, u.data)
		if err != nil {
			return err
		}
		sections = append(sections, s)
	}

	for _, name := range knownSections {
		data, err := w.encodeSection(name)
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		s, err := w.writeSection(name, data)
		if err != nil {
			return err
		}
		sections = append(sections, s)
	}

	if err := w.align(8); err != nil {
		return err
	}
	tocOff := w.off
	toc, err := appendTOC(nil, sections)
	if err != nil {
		return err
	}
	if err := w.write(toc); err != nil {
		return fmt.Errorf("toc: %w", err)
	}

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	w.w.Reset(nopWriter{})
	if err := w.h.UpdateTOCOffset(tocOff, w.f); err != nil {
		return fmt.Errorf("h.UpdateTOCOffset: %w", err)
	}

	if w.output != nil {
		if err := w.output.Close(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	w.logger.Debug("wrote store",
		"specs", len(w.specs),
		"deferred", nDeferred,
		"tokens", len(w.tokens),
		"paths", len(w.paths),
		"fields", len(w.fields),
		"bytes", w.off)
	return nil
}

// Discard abandons the session, leaving nothing at the destination.  It
// is a no-op after a successful Close, so it can always be deferred.
func (w *Writer) Discard() error {
	if w.state != stateWriting {
		return nil
	}
	w.state = stateDiscarded
	w.w.Reset(nopWriter{})
	if w.output != nil {
		return w.output.Discard()
	}
	return nil
}
