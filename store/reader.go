// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bpowers/scenestore/asset"
)

// Store is an open, read-only store.  All lookups are safe for concurrent use.
type Store struct {
	name   string
	path   string
	logger *slog.Logger
	opts   openOptions

	version  Version
	sections []Section

	tokens    []Token
	strings   []uint32
	fields    []fieldEntry
	fieldSets []uint32
	paths     []Path
	specs     []specEntry
	specIndex map[Path]int

	src   stream
	asset asset.Asset

	sharedTimes sync.Map // ValueRep -> []float64
	closed      atomic.Bool
}

// Open opens the store file at path.
func Open(path string, opts ...OpenOption) (*Store, error) {
	a, err := asset.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	s, err := OpenAsset(path, a, opts...)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// OpenAsset opens the store held in a, taking ownership of it: a is closed
// when the Store is, or immediately if opening fails.  name is used in
// errors and logs.
func OpenAsset(name string, a asset.Asset, opts ...OpenOption) (*Store, error) {
	options := newOpenOptions(opts)
	s := &Store{
		name:   name,
		logger: options.logger,
		opts:   options,
		asset:  a,
	}

	if !options.pread {
		m, err := a.Buffer()
		if err == nil {
			s.src = mappedStream{m: m}
		} else {
			s.logger.Debug("falling back to positioned reads", "store", name, "err", err)
		}
	}
	if s.src == nil {
		s.src = preadStream{r: a, n: a.Size()}
	}

	if err := s.readStructure(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	s.logger.Debug("opened store",
		"store", name,
		"version", s.version.String(),
		"specs", len(s.specs),
		"mapped", s.src.mapping() != nil)
	return s, nil
}

// CanOpen reports whether the asset begins with a store header.
func CanOpen(a asset.Asset) bool {
	var magic [len(fileMagic)]byte
	if n, _ := a.ReadAt(magic[:], 0); n != len(magic) {
		return false
	}
	return IsStore(magic[:])
}

func (s *Store) readStructure() error {
	size := s.src.size()
	if size < fileHeaderSize {
		return formatErrorf("file too short: %d < %d bytes", size, fileHeaderSize)
	}
	headerBytes, err := s.src.bytes(0, fileHeaderSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	var h fileHeader
	if err := h.UnmarshalBytes(headerBytes); err != nil {
		return err
	}
	s.version = h.version
	if !SoftwareVersion.CanRead(h.version) {
		return &VersionError{Op: "read", File: h.version, Software: SoftwareVersion}
	}

	if h.tocOffset < fileHeaderSize || h.tocOffset > size-8 {
		return formatErrorf("table of contents offset %d outside file of %d bytes (possibly truncated)", h.tocOffset, size)
	}
	countBytes, err := s.src.bytes(h.tocOffset, 8)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	count := binary.LittleEndian.Uint64(countBytes)
	if count > uint64(size-h.tocOffset-8)/sectionEntrySize {
		return formatErrorf("table of contents claims %d sections (possibly truncated)", count)
	}
	tocBytes, err := s.src.bytes(h.tocOffset+8, int64(count)*sectionEntrySize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	if s.sections, err = parseTOC(tocBytes, int(count), size); err != nil {
		return err
	}

	raw := make(map[string][]byte, len(knownSections))
	for _, name := range knownSections {
		sec, ok := s.Section(name)
		if !ok {
			return formatErrorf("missing %s section", name)
		}
		if raw[name], err = s.src.bytes(sec.Start, sec.Size); err != nil {
			return fmt.Errorf("%w: %w", ErrResource, err)
		}
	}

	if s.tokens, err = readTokens(raw[TokensSection]); err != nil {
		return err
	}
	if s.strings, err = readStrings(raw[StringsSection], len(s.tokens)); err != nil {
		return err
	}
	if s.fields, err = readFields(raw[FieldsSection], len(s.tokens)); err != nil {
		return err
	}
	if s.fieldSets, err = readFieldSets(raw[FieldSetsSection], len(s.fields)); err != nil {
		return err
	}
	if s.paths, err = s.readPaths(raw[PathsSection]); err != nil {
		return err
	}
	if s.specs, err = readSpecs(raw[SpecsSection], len(s.paths), s.fieldSets); err != nil {
		return err
	}

	s.specIndex = make(map[Path]int, len(s.specs))
	for i, spec := range s.specs {
		p := s.paths[spec.path]
		if _, dup := s.specIndex[p]; dup {
			return integrityErrorf("%s: more than one spec for %s", SpecsSection, p)
		}
		s.specIndex[p] = i
	}
	return nil
}

func (s *Store) readPaths(b []byte) ([]Path, error) {
	r := sectionReader{name: PathsSection, b: b}
	numPaths, err := r.count()
	if err != nil {
		return nil, err
	}
	numEncoded, err := r.count()
	if err != nil {
		return nil, err
	}
	var enc compressedPaths
	vals, err := r.ints(numEncoded)
	if err != nil {
		return nil, err
	}
	enc.pathIndexes = make([]uint32, numEncoded)
	for i, v := range vals {
		if enc.pathIndexes[i], err = r.index(v, numPaths, "path"); err != nil {
			return nil, err
		}
	}
	if vals, err = r.ints(numEncoded); err != nil {
		return nil, err
	}
	enc.elementTokens = make([]int32, numEncoded)
	for i, v := range vals {
		if v <= -int64(len(s.tokens)) || v >= int64(len(s.tokens)) {
			return nil, integrityErrorf("%s: element token %d out of range", PathsSection, v)
		}
		enc.elementTokens[i] = int32(v)
	}
	if vals, err = r.ints(numEncoded); err != nil {
		return nil, err
	}
	enc.jumps = make([]int32, numEncoded)
	for i, v := range vals {
		if v < jumpLeaf || v >= int64(numEncoded) {
			return nil, integrityErrorf("%s: bad jump %d at entry %d", PathsSection, v, i)
		}
		enc.jumps[i] = int32(v)
	}
	return decodePaths(s.tokens, numPaths, enc)
}

// Name returns the name the store was opened with.
func (s *Store) Name() string {
	return s.name
}

// Version returns the version recorded in the file.
func (s *Store) Version() Version {
	return s.version
}

// Sections returns the table of contents, including unknown sections.
func (s *Store) Sections() []Section {
	return s.sections
}

// Section looks up a section by name.
func (s *Store) Section(name string) (Section, bool) {
	for _, sec := range s.sections {
		if sec.Name == name {
			return sec, true
		}
	}
	return Section{}, false
}

// Tokens returns the token table.
func (s *Store) Tokens() []Token {
	return s.tokens
}

// Paths returns the path table, which includes ancestors of every spec.
func (s *Store) Paths() []Path {
	return s.paths
}

// NumFields returns the number of unique fields.
func (s *Store) NumFields() int {
	return len(s.fields)
}

// NumFieldSets returns the number of unique field sets.
func (s *Store) NumFieldSets() int {
	n := 0
	for _, idx := range s.fieldSets {
		if idx == fieldSetTerminator {
			n++
		}
	}
	return n
}

// SpecPaths returns the path of every spec, in file order.
func (s *Store) SpecPaths() []Path {
	out := make([]Path, len(s.specs))
	for i, spec := range s.specs {
		out[i] = s.paths[spec.path]
	}
	return out
}

func (s *Store) HasSpec(p Path) bool {
	_, ok := s.specIndex[p]
	return ok
}

// SpecKind returns the kind of the spec at p.
func (s *Store) SpecKind(p Path) (SpecKind, bool) {
	i, ok := s.specIndex[p]
	if !ok {
		return SpecUnknown, false
	}
	return s.specs[i].kind, true
}

// specFields returns the field entries of the spec at p, in stored order.
func (s *Store) specFields(p Path) ([]fieldEntry, bool) {
	i, ok := s.specIndex[p]
	if !ok {
		return nil, false
	}
	var out []fieldEntry
	for _, idx := range s.fieldSets[s.specs[i].fieldSet:] {
		if idx == fieldSetTerminator {
			break
		}
		out = append(out, s.fields[idx])
	}
	return out, true
}

// ListFields returns the names of the fields of the spec at p.
func (s *Store) ListFields(p Path) ([]Token, bool) {
	entries, ok := s.specFields(p)
	if !ok {
		return nil, false
	}
	names := make([]Token, len(entries))
	for i, f := range entries {
		names[i] = s.tokens[f.token]
	}
	return names, true
}

// FieldRep returns the packed value of field name of the spec at p.
func (s *Store) FieldRep(p Path, name Token) (ValueRep, bool) {
	entries, _ := s.specFields(p)
	for _, f := range entries {
		if s.tokens[f.token] == name {
			return f.rep, true
		}
	}
	return 0, false
}

// Raw returns field name of the spec at p without unpacking it, for
// writing back through an update of this store.
func (s *Store) Raw(p Path, name Token) (RawValue, bool) {
	rep, ok := s.FieldRep(p, name)
	if !ok {
		return RawValue{}, false
	}
	return RawValue{Rep: rep, store: s}, true
}

// Get unpacks field name of the spec at p.
func (s *Store) Get(p Path, name Token) (any, error) {
	rep, ok := s.FieldRep(p, name)
	if !ok {
		return nil, fmt.Errorf("%w: field %q of %s", ErrNotFound, name, p)
	}
	return s.Value(rep)
}

// Fields unpacks every field of the spec at p.
func (s *Store) Fields(p Path) ([]Field, error) {
	entries, ok := s.specFields(p)
	if !ok {
		return nil, fmt.Errorf("%w: spec %s", ErrNotFound, p)
	}
	out := make([]Field, len(entries))
	for i, f := range entries {
		v, err := s.Value(f.rep)
		if err != nil {
			return nil, fmt.Errorf("field %q of %s: %w", s.tokens[f.token], p, err)
		}
		out[i] = Field{Name: s.tokens[f.token], Value: v}
	}
	return out, nil
}

// Close releases the store.  Zero-copy arrays obtained from it stay valid
// until they are released.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var errs []error
	if s.src != nil {
		errs = append(errs, s.src.close())
	}
	if s.asset != nil {
		errs = append(errs, s.asset.Close())
	}
	return errors.Join(errs...)
}
