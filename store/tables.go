// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/bpowers/scenestore/internal/compress"
	"github.com/bpowers/scenestore/internal/unsafeslice"
)

const fieldSetTerminator = math.MaxUint32

// tables are the append-only, deduplicated structural tables built up by a
// write session.  Every table is consulted before it is appended to.
type tables struct {
	tokens     []Token
	tokenIndex map[Token]uint32

	strings     []uint32 // token index per string
	stringIndex map[string]uint32

	paths     []Path
	pathIndex map[Path]uint32

	fields     []fieldEntry
	fieldIndex map[fieldEntry]uint32

	fieldSets     []uint32
	fieldSetIndex map[string]uint32
}

func newTables() tables {
	t := tables{
		tokenIndex:    make(map[Token]uint32),
		stringIndex:   make(map[string]uint32),
		pathIndex:     make(map[Path]uint32),
		fieldIndex:    make(map[fieldEntry]uint32),
		fieldSetIndex: make(map[string]uint32),
	}
	// the root path's element is the empty token, and it must be index 0
	// so that a negated element index is never ambiguous
	_, _ = t.addToken("")
	return t
}

func (t *tables) addToken(tok Token) (uint32, error) {
	if idx, ok := t.tokenIndex[tok]; ok {
		return idx, nil
	}
	if !utf8.ValidString(string(tok)) {
		return 0, fmt.Errorf("token %q is not valid UTF-8", tok)
	}
	if len(t.tokens) >= math.MaxInt32 {
		return 0, fmt.Errorf("too many tokens")
	}
	idx := uint32(len(t.tokens))
	t.tokens = append(t.tokens, tok)
	t.tokenIndex[tok] = idx
	return idx, nil
}

func (t *tables) addString(s string) (uint32, error) {
	if idx, ok := t.stringIndex[s]; ok {
		return idx, nil
	}
	tok, err := t.addToken(Token(s))
	if err != nil {
		return 0, err
	}
	idx := uint32(len(t.strings))
	t.strings = append(t.strings, tok)
	t.stringIndex[s] = idx
	return idx, nil
}

// addPath adds p along with every ancestor not yet present.
func (t *tables) addPath(p Path) uint32 {
	if idx, ok := t.pathIndex[p]; ok {
		return idx
	}
	if !p.IsRoot() {
		t.addPath(p.Parent())
	}
	// path element names are valid identifiers, so this cannot fail
	_, _ = t.addToken(Token(p.Name()))
	idx := uint32(len(t.paths))
	t.paths = append(t.paths, p)
	t.pathIndex[p] = idx
	return idx
}

func (t *tables) addField(f fieldEntry) uint32 {
	if idx, ok := t.fieldIndex[f]; ok {
		return idx
	}
	idx := uint32(len(t.fields))
	t.fields = append(t.fields, f)
	t.fieldIndex[f] = idx
	return idx
}

// addFieldSet returns the start of a terminated run holding exactly
// fields, sharing an existing run when one matches.
func (t *tables) addFieldSet(fields []uint32) uint32 {
	key := string(unsafeslice.Bytes(fields))
	if idx, ok := t.fieldSetIndex[key]; ok {
		return idx
	}
	idx := uint32(len(t.fieldSets))
	t.fieldSets = append(t.fieldSets, fields...)
	t.fieldSets = append(t.fieldSets, fieldSetTerminator)
	t.fieldSetIndex[key] = idx
	return idx
}

func appendU64(dst []byte, v int) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(v))
}

func appendIntBlob[T int32 | uint32 | int64 | SpecKind](dst []byte, c Codec, vals []T) ([]byte, error) {
	ints := make([]int64, len(vals))
	for i, v := range vals {
		ints[i] = int64(v)
	}
	return compress.AppendBlob(dst, c, compress.AppendInts(nil, ints))
}

func (w *Writer) encodeSection(name string) ([]byte, error) {
	c := w.opts.codec
	switch name {
	case TokensSection:
		var raw []byte
		for _, tok := range w.tokens {
			raw = binary.AppendUvarint(raw, uint64(len(tok)))
			raw = append(raw, tok...)
		}
		return compress.AppendBlob(appendU64(nil, len(w.tokens)), c, raw)

	case StringsSection:
		return appendLE(appendU64(nil, len(w.strings)), w.strings), nil

	case FieldsSection:
		tokens := make([]uint32, len(w.fields))
		reps := make([]uint64, len(w.fields))
		for i, f := range w.fields {
			tokens[i], reps[i] = f.token, uint64(f.rep)
		}
		out, err := appendIntBlob(appendU64(nil, len(w.fields)), c, tokens)
		if err != nil {
			return nil, err
		}
		return compress.AppendBlob(out, c, appendLE(nil, reps))

	case FieldSetsSection:
		// the terminator becomes -1, which delta codes far better than 2^32-1
		sets := make([]int32, len(w.fieldSets))
		for i, idx := range w.fieldSets {
			sets[i] = int32(idx)
		}
		return appendIntBlob(appendU64(nil, len(w.fieldSets)), c, sets)

	case PathsSection:
		enc, err := w.encodePaths()
		if err != nil {
			return nil, err
		}
		out := appendU64(nil, len(w.paths))
		out = appendU64(out, len(enc.pathIndexes))
		if out, err = appendIntBlob(out, c, enc.pathIndexes); err != nil {
			return nil, err
		}
		if out, err = appendIntBlob(out, c, enc.elementTokens); err != nil {
			return nil, err
		}
		return appendIntBlob(out, c, enc.jumps)

	case SpecsSection:
		paths := make([]uint32, len(w.specs))
		sets := make([]uint32, len(w.specs))
		kinds := make([]SpecKind, len(w.specs))
		for i, s := range w.specs {
			paths[i], sets[i], kinds[i] = s.path, s.fieldSet, s.kind
		}
		out, err := appendIntBlob(appendU64(nil, len(w.specs)), c, paths)
		if err != nil {
			return nil, err
		}
		if out, err = appendIntBlob(out, c, sets); err != nil {
			return nil, err
		}
		return appendIntBlob(out, c, kinds)
	}
	return nil, fmt.Errorf("unknown section %q", name)
}

// sectionReader decodes a structural section held in memory.
type sectionReader struct {
	name string
	b    []byte
}

// count reads an element count.  Decoders check it against the decoded
// data before allocating anything proportional to it.
func (r *sectionReader) count() (int, error) {
	if len(r.b) < 8 {
		return 0, integrityErrorf("%s: missing count", r.name)
	}
	n := binary.LittleEndian.Uint64(r.b)
	r.b = r.b[8:]
	if n > math.MaxInt32 {
		return 0, integrityErrorf("%s: implausible count %d", r.name, n)
	}
	return int(n), nil
}

func (r *sectionReader) blob() ([]byte, error) {
	raw, n, err := compress.ReadBlob(r.b)
	if err != nil {
		return nil, integrityErrorf("%s: %s", r.name, err)
	}
	r.b = r.b[n:]
	return raw, nil
}

func (r *sectionReader) ints(n int) ([]int64, error) {
	raw, err := r.blob()
	if err != nil {
		return nil, err
	}
	vals, err := compress.DecodeInts(raw, n)
	if err != nil {
		return nil, integrityErrorf("%s: %s", r.name, err)
	}
	return vals, nil
}

// index checks that v is a valid index into a table of n entries.
func (r *sectionReader) index(v int64, n int, what string) (uint32, error) {
	if v < 0 || v >= int64(n) {
		return 0, integrityErrorf("%s: %s index %d out of range [0, %d)", r.name, what, v, n)
	}
	return uint32(v), nil
}

func readTokens(b []byte) ([]Token, error) {
	r := sectionReader{name: TokensSection, b: b}
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	raw, err := r.blob()
	if err != nil {
		return nil, err
	}
	if n > len(raw) {
		return nil, integrityErrorf("%s: %d tokens cannot fit in %d bytes", r.name, n, len(raw))
	}
	tokens := make([]Token, n)
	for i := range tokens {
		l, w := binary.Uvarint(raw)
		if w <= 0 || l > uint64(len(raw)-w) {
			return nil, integrityErrorf("%s: token %d is truncated", r.name, i)
		}
		tokens[i] = Token(raw[w : w+int(l)])
		raw = raw[w+int(l):]
	}
	if len(tokens) == 0 || tokens[0] != "" {
		return nil, integrityErrorf("%s: token 0 must be the empty token", r.name)
	}
	return tokens, nil
}

func readStrings(b []byte, nTokens int) ([]uint32, error) {
	r := sectionReader{name: StringsSection, b: b}
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	if len(r.b) != n*4 {
		return nil, integrityErrorf("%s: %d bytes for %d strings", r.name, len(r.b), n)
	}
	strs := make([]uint32, n)
	for i := range strs {
		if strs[i], err = r.index(int64(binary.LittleEndian.Uint32(r.b[i*4:])), nTokens, "token"); err != nil {
			return nil, err
		}
	}
	return strs, nil
}

func readFields(b []byte, nTokens int) ([]fieldEntry, error) {
	r := sectionReader{name: FieldsSection, b: b}
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	tokens, err := r.ints(n)
	if err != nil {
		return nil, err
	}
	reps, err := r.blob()
	if err != nil {
		return nil, err
	}
	if len(reps) != n*8 {
		return nil, integrityErrorf("%s: %d rep bytes for %d fields", r.name, len(reps), n)
	}
	fields := make([]fieldEntry, n)
	for i := range fields {
		if fields[i].token, err = r.index(tokens[i], nTokens, "token"); err != nil {
			return nil, err
		}
		fields[i].rep = ValueRep(binary.LittleEndian.Uint64(reps[i*8:]))
	}
	return fields, nil
}

func readFieldSets(b []byte, nFields int) ([]uint32, error) {
	r := sectionReader{name: FieldSetsSection, b: b}
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	vals, err := r.ints(n)
	if err != nil {
		return nil, err
	}
	sets := make([]uint32, n)
	for i, v := range vals {
		if v == -1 {
			sets[i] = fieldSetTerminator
			continue
		}
		if sets[i], err = r.index(v, nFields, "field"); err != nil {
			return nil, err
		}
	}
	if n > 0 && sets[n-1] != fieldSetTerminator {
		return nil, integrityErrorf("%s: last field set is not terminated", r.name)
	}
	return sets, nil
}

func readSpecs(b []byte, nPaths int, fieldSets []uint32) ([]specEntry, error) {
	r := sectionReader{name: SpecsSection, b: b}
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	paths, err := r.ints(n)
	if err != nil {
		return nil, err
	}
	sets, err := r.ints(n)
	if err != nil {
		return nil, err
	}
	kinds, err := r.ints(n)
	if err != nil {
		return nil, err
	}
	specs := make([]specEntry, n)
	for i := range specs {
		s := &specs[i]
		if s.path, err = r.index(paths[i], nPaths, "path"); err != nil {
			return nil, err
		}
		if s.fieldSet, err = r.index(sets[i], len(fieldSets), "field set"); err != nil {
			return nil, err
		}
		if s.fieldSet > 0 && fieldSets[s.fieldSet-1] != fieldSetTerminator {
			return nil, integrityErrorf("%s: field set %d does not start a run", r.name, s.fieldSet)
		}
		if kinds[i] < 0 || kinds[i] >= int64(numSpecKinds) {
			return nil, integrityErrorf("%s: unknown spec kind %d", r.name, kinds[i])
		}
		s.kind = SpecKind(kinds[i])
	}
	return specs, nil
}
