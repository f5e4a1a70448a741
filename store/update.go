// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
	"slices"

	"github.com/bpowers/scenestore/asset"
)

// StartUpdate starts a write session that replaces this store's file.  The
// new file keeps the old value data in place, so values read from s as
// RawValue, and file-backed TimeSamples, are written by reference instead
// of being copied.  The session starts with no specs: every spec the
// updated store should hold must be added again, for example with
// CopySpec.  Sections this software does not know are carried forward.
//
// s must stay open until the Writer is closed or discarded.
func (s *Store) StartUpdate(opts ...WriterOption) (*Writer, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.path == "" {
		return nil, fmt.Errorf("%w: %s was not opened from a file", ErrWrite, s.name)
	}
	if !SoftwareVersion.CanWrite(s.version) {
		return nil, &VersionError{Op: "update", File: s.version, Software: SoftwareVersion}
	}

	var unknown []unknownSection
	prefix := s.src.size()
	for _, sec := range s.sections {
		prefix = min(prefix, sec.Start)
		if isKnownSection(sec.Name) {
			continue
		}
		data, err := s.src.bytes(sec.Start, sec.Size)
		if err != nil {
			return nil, fmt.Errorf("%w: section %s: %w", ErrResource, sec.Name, err)
		}
		unknown = append(unknown, unknownSection{name: sec.Name, data: slices.Clone(data)})
	}

	out, err := asset.OpenForWrite(s.path, asset.Update)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	// structural sections are rewritten, so only the value data survives
	if err := out.Truncate(prefix); err != nil {
		_ = out.Discard()
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	w, err := newWriter(out, prefix, opts)
	if err != nil {
		_ = out.Discard()
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	w.output = out
	w.prior = s
	w.unknown = unknown
	w.tables.seed(s)

	w.logger.Debug("updating store",
		"store", s.name,
		"version", s.version.String(),
		"valueBytes", prefix-fileHeaderSize,
		"unknownSections", len(unknown))
	return w, nil
}

// seed copies the token, string and path tables of s, keeping every
// index stable so that reps read from s mean the same thing when written.
func (t *tables) seed(s *Store) {
	t.tokens = slices.Clone(s.tokens)
	clear(t.tokenIndex)
	for i, tok := range t.tokens {
		if _, ok := t.tokenIndex[tok]; !ok {
			t.tokenIndex[tok] = uint32(i)
		}
	}

	t.strings = slices.Clone(s.strings)
	for i, tok := range t.strings {
		if _, ok := t.stringIndex[string(t.tokens[tok])]; !ok {
			t.stringIndex[string(t.tokens[tok])] = uint32(i)
		}
	}

	t.paths = slices.Clone(s.paths)
	for i, p := range t.paths {
		if _, ok := t.pathIndex[p]; !ok {
			t.pathIndex[p] = uint32(i)
		}
	}
}

// CopySpec adds the spec at p from the store being updated, writing each
// of its fields by reference.
func (w *Writer) CopySpec(p Path) error {
	if w.prior == nil {
		return fmt.Errorf("CopySpec(%s): writer is not updating a store", p)
	}
	kind, ok := w.prior.SpecKind(p)
	if !ok {
		return fmt.Errorf("CopySpec(%s): %w", p, ErrNotFound)
	}
	entries, _ := w.prior.specFields(p)
	fields := make([]Field, len(entries))
	for i, f := range entries {
		fields[i] = Field{
			Name:  w.prior.tokens[f.token],
			Value: RawValue{Rep: f.rep, store: w.prior},
		}
	}
	return w.AddSpec(p, kind, fields)
}
