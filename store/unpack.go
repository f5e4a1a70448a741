// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bpowers/scenestore/internal/compress"
	"github.com/bpowers/scenestore/internal/unsafeslice"
)

// Value unpacks rep, which must have been read from this store.
//
// Numeric arrays are returned as Array values, which may alias the file
// mapping; token, asset path and string arrays are returned as slices.
// TimeSamples read their values lazily.
func (s *Store) Value(rep ValueRep) (any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	v, err := s.unpack(rep)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", rep.Type(), err)
	}
	return v, nil
}

// Value unpacks a raw value from the store it was read from.
func (v RawValue) Value() (any, error) {
	if v.store == nil {
		return nil, fmt.Errorf("%w: raw value has no store", ErrNotFound)
	}
	return v.store.Value(v.Rep)
}

// valueBytes returns [off, off+n) of the value area.
func (s *Store) valueBytes(off, n int64) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if off < fileHeaderSize {
		return nil, integrityErrorf("value offset %d lies inside the header", off)
	}
	b, err := s.src.bytes(off, n)
	if err != nil {
		return nil, integrityErrorf("value data: %s", err)
	}
	return b, nil
}

// countAt reads the element count stored at off, checking that that many
// elemSize-byte elements fit in the rest of the file.
func (s *Store) countAt(off, elemSize int64) (int64, error) {
	b, err := s.valueBytes(off, 8)
	if err != nil {
		return 0, err
	}
	n := binary.LittleEndian.Uint64(b)
	limit := uint64(math.MaxInt32)
	if elemSize > 0 {
		limit = min(limit, uint64(s.src.size()-off-8)/uint64(elemSize))
	}
	if n > limit {
		return 0, integrityErrorf("count %d at offset %d is larger than the file allows", n, off)
	}
	return int64(n), nil
}

func (s *Store) tokenAt(idx uint32) (Token, error) {
	if int(idx) >= len(s.tokens) {
		return "", integrityErrorf("token index %d out of range [0, %d)", idx, len(s.tokens))
	}
	return s.tokens[idx], nil
}

func (s *Store) stringAt(idx uint32) (string, error) {
	if int(idx) >= len(s.strings) {
		return "", integrityErrorf("string index %d out of range [0, %d)", idx, len(s.strings))
	}
	return string(s.tokens[s.strings[idx]]), nil
}

func (s *Store) pathAt(idx uint32) (Path, error) {
	if int(idx) >= len(s.paths) {
		return EmptyPath, integrityErrorf("path index %d out of range [0, %d)", idx, len(s.paths))
	}
	return s.paths[idx], nil
}

// indexesAt reads a counted run of u32 table indexes, returning them and
// the number of bytes consumed.
func (s *Store) indexesAt(off int64) ([]uint32, int64, error) {
	n, err := s.countAt(off, 4)
	if err != nil {
		return nil, 0, err
	}
	b, err := s.valueBytes(off+8, n*4)
	if err != nil {
		return nil, 0, err
	}
	idx := make([]uint32, n)
	for i := range idx {
		idx[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return idx, 8 + n*4, nil
}

func lookupAll[T any](idx []uint32, lookup func(uint32) (T, error)) ([]T, error) {
	out := make([]T, len(idx))
	for i, j := range idx {
		v, err := lookup(j)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// blobAt reads the framed blob starting at off.
func (s *Store) blobAt(off int64) ([]byte, error) {
	hdr, err := s.valueBytes(off, compress.BlobHeaderSize)
	if err != nil {
		return nil, err
	}
	stored := binary.LittleEndian.Uint64(hdr[9:17])
	if stored > uint64(s.src.size()-off-compress.BlobHeaderSize) {
		return nil, integrityErrorf("blob at offset %d claims %d bytes", off, stored)
	}
	b, err := s.valueBytes(off, compress.BlobHeaderSize+int64(stored))
	if err != nil {
		return nil, err
	}
	raw, _, err := compress.ReadBlob(b)
	if err != nil {
		return nil, integrityErrorf("%s", err)
	}
	return raw, nil
}

// checkNested rejects a nested rep that does not point before the record
// holding it.  Nested values are always written first, so this also rules
// out cycles.
func checkNested(rep ValueRep, parent int64) error {
	if !rep.IsInlined() && int64(rep.Payload()) >= parent {
		return integrityErrorf("nested value at offset %d does not precede its container at %d", rep.Payload(), parent)
	}
	return nil
}

func sizeOf[T any]() int64 {
	var zero T
	return int64(binary.Size(zero))
}

func (s *Store) unpack(rep ValueRep) (any, error) {
	if rep.IsArray() {
		return s.unpackArray(rep)
	}
	if rep.IsCompressed() {
		return nil, integrityErrorf("compressed scalar")
	}
	if rep.IsInlined() {
		return s.unpackInline(rep)
	}

	off := int64(rep.Payload())
	switch rep.Type() {
	case TypeInt64:
		v, err := readFixed[int64](s, off)
		return v, err
	case TypeUInt64:
		v, err := readFixed[uint64](s, off)
		return v, err
	case TypeDouble:
		v, err := readFixed[float64](s, off)
		return v, err
	case TypeTimeCode:
		v, err := readFixed[float64](s, off)
		return TimeCode(v), err
	case TypeVec2f:
		return readFixed[Vec2f](s, off)
	case TypeVec3f:
		return readFixed[Vec3f](s, off)
	case TypeVec4f:
		return readFixed[Vec4f](s, off)
	case TypeVec2d:
		return readFixed[Vec2d](s, off)
	case TypeVec3d:
		return readFixed[Vec3d](s, off)
	case TypeVec4d:
		return readFixed[Vec4d](s, off)
	case TypeVec2i:
		return readFixed[Vec2i](s, off)
	case TypeVec3i:
		return readFixed[Vec3i](s, off)
	case TypeVec4i:
		return readFixed[Vec4i](s, off)
	case TypeMatrix2d:
		return readFixed[Matrix2d](s, off)
	case TypeMatrix3d:
		return readFixed[Matrix3d](s, off)
	case TypeMatrix4d:
		return readFixed[Matrix4d](s, off)

	case TypeDictionary:
		return s.unpackDictionary(off)
	case TypeTokenVector:
		idx, _, err := s.indexesAt(off)
		if err != nil {
			return nil, err
		}
		toks, err := lookupAll(idx, s.tokenAt)
		return TokenVector(toks), err
	case TypeStringVector:
		idx, _, err := s.indexesAt(off)
		if err != nil {
			return nil, err
		}
		strs, err := lookupAll(idx, s.stringAt)
		return StringVector(strs), err
	case TypePathVector:
		idx, _, err := s.indexesAt(off)
		if err != nil {
			return nil, err
		}
		paths, err := lookupAll(idx, s.pathAt)
		return PathVector(paths), err
	case TypeDoubleVector:
		v, err := s.doublesAt(off)
		return DoubleVector(v), err
	case TypeTokenListOp:
		return unpackListOp(s, off, s.tokenAt)
	case TypePathListOp:
		return unpackListOp(s, off, s.pathAt)
	case TypeTimeSamples:
		return s.unpackTimeSamples(rep)
	}
	return nil, integrityErrorf("%s values are never stored out of line", rep.Type())
}

func readFixed[T any](s *Store, off int64) (T, error) {
	out := make([]T, 1)
	b, err := s.valueBytes(off, sizeOf[T]())
	if err != nil {
		return out[0], err
	}
	if err := decodeLE(out, b); err != nil {
		return out[0], integrityErrorf("%s", err)
	}
	return out[0], nil
}

// int8Comps expands the packed int8 components of an inline payload.
func int8Comps[T float32 | float64 | int32](payload uint32, out []T) {
	for i := range out {
		out[i] = T(int8(payload >> (8 * i)))
	}
}

func diagonal(payload uint32, dim int, m []float64) {
	diag := make([]float64, dim)
	int8Comps(payload, diag)
	for i, d := range diag {
		m[i*dim+i] = d
	}
}

func (s *Store) unpackInline(rep ValueRep) (any, error) {
	if rep.Payload() > math.MaxUint32 {
		return nil, integrityErrorf("inline payload %#x exceeds 32 bits", rep.Payload())
	}
	p := uint32(rep.Payload())
	switch rep.Type() {
	case TypeBool:
		return p != 0, nil
	case TypeUChar:
		return uint8(p), nil
	case TypeInt:
		return int32(p), nil
	case TypeUInt:
		return p, nil
	case TypeInt64:
		return int64(int32(p)), nil
	case TypeUInt64:
		return uint64(p), nil
	case TypeFloat:
		return math.Float32frombits(p), nil
	case TypeDouble:
		return float64(math.Float32frombits(p)), nil
	case TypeTimeCode:
		return TimeCode(math.Float32frombits(p)), nil
	case TypeSpecifier:
		return Specifier(int32(p)), nil
	case TypePermission:
		return Permission(int32(p)), nil
	case TypeVariability:
		return Variability(int32(p)), nil
	case TypeValueBlock:
		return ValueBlock{}, nil

	case TypeString:
		return s.stringAt(p)
	case TypeToken:
		return s.tokenAt(p)
	case TypeAssetPath:
		tok, err := s.tokenAt(p)
		return AssetPath(tok), err

	case TypeVec2f:
		var v Vec2f
		int8Comps(p, v[:])
		return v, nil
	case TypeVec3f:
		var v Vec3f
		int8Comps(p, v[:])
		return v, nil
	case TypeVec4f:
		var v Vec4f
		int8Comps(p, v[:])
		return v, nil
	case TypeVec2d:
		var v Vec2d
		int8Comps(p, v[:])
		return v, nil
	case TypeVec3d:
		var v Vec3d
		int8Comps(p, v[:])
		return v, nil
	case TypeVec4d:
		var v Vec4d
		int8Comps(p, v[:])
		return v, nil
	case TypeVec2i:
		var v Vec2i
		int8Comps(p, v[:])
		return v, nil
	case TypeVec3i:
		var v Vec3i
		int8Comps(p, v[:])
		return v, nil
	case TypeVec4i:
		var v Vec4i
		int8Comps(p, v[:])
		return v, nil
	case TypeMatrix2d:
		var m Matrix2d
		diagonal(p, 2, m[:])
		return m, nil
	case TypeMatrix3d:
		var m Matrix3d
		diagonal(p, 3, m[:])
		return m, nil
	case TypeMatrix4d:
		var m Matrix4d
		diagonal(p, 4, m[:])
		return m, nil
	}
	return nil, integrityErrorf("%s values are never inlined", rep.Type())
}

func (s *Store) doublesAt(off int64) ([]float64, error) {
	n, err := s.countAt(off, 8)
	if err != nil {
		return nil, err
	}
	b, err := s.valueBytes(off+8, n*8)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	if err := decodeLE(out, b); err != nil {
		return nil, integrityErrorf("%s", err)
	}
	return out, nil
}

func (s *Store) unpackDictionary(off int64) (Dictionary, error) {
	const entrySize = 4 + 8
	n, err := s.countAt(off, entrySize)
	if err != nil {
		return nil, err
	}
	b, err := s.valueBytes(off+8, n*entrySize)
	if err != nil {
		return nil, err
	}
	d := make(Dictionary, n)
	for i := int64(0); i < n; i++ {
		e := b[i*entrySize:]
		key, err := s.stringAt(binary.LittleEndian.Uint32(e))
		if err != nil {
			return nil, err
		}
		rep := ValueRep(binary.LittleEndian.Uint64(e[4:]))
		if err := checkNested(rep, off); err != nil {
			return nil, err
		}
		v, err := s.unpack(rep)
		if err != nil {
			return nil, fmt.Errorf("dictionary key %q: %w", key, err)
		}
		d[key] = v
	}
	return d, nil
}

func unpackListOp[T Token | Path](s *Store, off int64, lookup func(uint32) (T, error)) (ListOp[T], error) {
	var op ListOp[T]
	hdr, err := s.valueBytes(off, 1)
	if err != nil {
		return op, err
	}
	header := hdr[0]
	if header&^(listOpHasAppended<<1-1) != 0 {
		return op, integrityErrorf("list op header %#x has unknown bits", header)
	}
	op.Explicit = header&listOpExplicit != 0
	cur := off + 1
	for _, part := range listOpParts(&op) {
		if header&part.bit == 0 {
			continue
		}
		idx, n, err := s.indexesAt(cur)
		if err != nil {
			return op, err
		}
		if *part.items, err = lookupAll(idx, lookup); err != nil {
			return op, err
		}
		cur += n
	}
	return op, nil
}

func (s *Store) unpackTimeSamples(rep ValueRep) (TimeSamples, error) {
	off := int64(rep.Payload())
	b, err := s.valueBytes(off, 16)
	if err != nil {
		return TimeSamples{}, err
	}
	timesRep := ValueRep(binary.LittleEndian.Uint64(b))
	if timesRep.Type() != TypeDoubleVector || timesRep.IsArray() || timesRep.IsInlined() {
		return TimeSamples{}, integrityErrorf("sample times have rep %s", timesRep)
	}
	if err := checkNested(timesRep, off); err != nil {
		return TimeSamples{}, err
	}
	n := binary.LittleEndian.Uint64(b[8:])
	if n > uint64(s.src.size()-off-16)/8 {
		return TimeSamples{}, integrityErrorf("%d samples at offset %d is larger than the file allows", n, off)
	}
	times, err := s.sampleTimes(timesRep)
	if err != nil {
		return TimeSamples{}, err
	}
	if uint64(len(times)) != n {
		return TimeSamples{}, integrityErrorf("%d sample times for %d values", len(times), n)
	}
	return TimeSamples{
		Times:        times,
		src:          s,
		rep:          rep,
		valuesOffset: off + 16,
	}, nil
}

// sampleTimes returns the times stored at rep, decoding each distinct set
// of times once per Store.
func (s *Store) sampleTimes(rep ValueRep) ([]float64, error) {
	if v, ok := s.sharedTimes.Load(rep); ok {
		return v.([]float64), nil
	}
	times, err := s.doublesAt(int64(rep.Payload()))
	if err != nil {
		return nil, err
	}
	v, _ := s.sharedTimes.LoadOrStore(rep, times)
	return v.([]float64), nil
}

func (s *Store) unpackArray(rep ValueRep) (any, error) {
	switch rep.Type() {
	case TypeUChar:
		return unpackNumericArray[uint8](s, rep)
	case TypeInt:
		return unpackIntArray[int32](s, rep)
	case TypeUInt:
		return unpackIntArray[uint32](s, rep)
	case TypeInt64:
		return unpackIntArray[int64](s, rep)
	case TypeUInt64:
		return unpackIntArray[uint64](s, rep)
	case TypeFloat:
		return unpackNumericArray[float32](s, rep)
	case TypeDouble:
		return unpackNumericArray[float64](s, rep)
	case TypeTimeCode:
		return unpackNumericArray[TimeCode](s, rep)
	case TypeVec2f:
		return unpackNumericArray[Vec2f](s, rep)
	case TypeVec3f:
		return unpackNumericArray[Vec3f](s, rep)
	case TypeVec4f:
		return unpackNumericArray[Vec4f](s, rep)
	case TypeVec2d:
		return unpackNumericArray[Vec2d](s, rep)
	case TypeVec3d:
		return unpackNumericArray[Vec3d](s, rep)
	case TypeVec4d:
		return unpackNumericArray[Vec4d](s, rep)
	case TypeVec2i:
		return unpackNumericArray[Vec2i](s, rep)
	case TypeVec3i:
		return unpackNumericArray[Vec3i](s, rep)
	case TypeVec4i:
		return unpackNumericArray[Vec4i](s, rep)
	case TypeMatrix2d:
		return unpackNumericArray[Matrix2d](s, rep)
	case TypeMatrix3d:
		return unpackNumericArray[Matrix3d](s, rep)
	case TypeMatrix4d:
		return unpackNumericArray[Matrix4d](s, rep)
	case TypeToken:
		return unpackIndexArray(s, rep, s.tokenAt)
	case TypeAssetPath:
		return unpackIndexArray(s, rep, func(idx uint32) (AssetPath, error) {
			tok, err := s.tokenAt(idx)
			return AssetPath(tok), err
		})
	case TypeString:
		return unpackIndexArray(s, rep, s.stringAt)
	}
	return nil, integrityErrorf("%s values are never stored as arrays", rep.Type())
}

// emptyArray reports whether rep is the inline encoding of an empty array.
func emptyArray(rep ValueRep) (bool, error) {
	if !rep.IsInlined() {
		return false, nil
	}
	if rep.Payload() != 0 || rep.IsCompressed() {
		return false, integrityErrorf("inline array with payload %#x", rep.Payload())
	}
	return true, nil
}

func unpackIndexArray[T any](s *Store, rep ValueRep, lookup func(uint32) (T, error)) ([]T, error) {
	if empty, err := emptyArray(rep); empty || err != nil {
		return []T{}, err
	}
	if rep.IsCompressed() {
		return nil, integrityErrorf("compressed %s array", rep.Type())
	}
	idx, _, err := s.indexesAt(int64(rep.Payload()))
	if err != nil {
		return nil, err
	}
	return lookupAll(idx, lookup)
}

// unpackNumericArray returns the array at rep, aliasing the mapping when
// the store is mapped, zero-copy is enabled and the array is large enough.
func unpackNumericArray[T any](s *Store, rep ValueRep) (Array[T], error) {
	if empty, err := emptyArray(rep); empty || err != nil {
		return Array[T]{data: []T{}}, err
	}
	if rep.IsCompressed() {
		return Array[T]{}, integrityErrorf("compressed %s array", rep.Type())
	}
	off := int64(rep.Payload())
	size := sizeOf[T]()
	n, err := s.countAt(off, size)
	if err != nil {
		return Array[T]{}, err
	}
	data, err := s.valueBytes(off+8, n*size)
	if err != nil {
		return Array[T]{}, err
	}

	if m := s.src.mapping(); m != nil && s.opts.zeroCopy && unsafeslice.LittleEndian && int64(len(data)) >= s.opts.zeroCopyMinBytes {
		if view, ok := unsafeslice.Cast[T](data); ok {
			ref, err := m.AddRangeReference(data)
			if err == nil {
				return Array[T]{data: view, ref: ref}, nil
			}
			s.logger.Debug("copying array instead of aliasing the mapping", "store", s.name, "err", err)
		}
	}

	out := make([]T, n)
	if err := decodeLE(out, data); err != nil {
		return Array[T]{}, integrityErrorf("%s", err)
	}
	return Array[T]{data: out}, nil
}

// unpackIntArray also handles delta coded, compressed integer arrays.
func unpackIntArray[T int32 | uint32 | int64 | uint64](s *Store, rep ValueRep) (Array[T], error) {
	if !rep.IsCompressed() || rep.IsInlined() {
		return unpackNumericArray[T](s, rep)
	}
	off := int64(rep.Payload())
	n, err := s.countAt(off, 0)
	if err != nil {
		return Array[T]{}, err
	}
	raw, err := s.blobAt(off + 8)
	if err != nil {
		return Array[T]{}, err
	}
	ints, err := compress.DecodeInts(raw, int(n))
	if err != nil {
		return Array[T]{}, integrityErrorf("%s", err)
	}
	out := make([]T, n)
	for i, v := range ints {
		out[i] = T(v)
	}
	return Array[T]{data: out}, nil
}
