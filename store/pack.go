// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/scenestore/internal/compress"
)

type dedupKey struct {
	rep         ValueRep // type and flags, without a payload
	fingerprint uint64
}

type dedupEntry struct {
	data []byte
	off  int64
}

// valueDedup remembers every out-of-line encoding written so identical
// values are stored once.
type valueDedup map[dedupKey][]dedupEntry

func inlineRep(t Type, payload uint32) ValueRep {
	return newRep(t, true, false, uint64(payload))
}

func boolPayload(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// writeOutOfLine writes data at the cursor, 8-byte aligned, unless an
// identical encoding of the same kind was already written.
func (w *Writer) writeOutOfLine(kind ValueRep, data []byte) (ValueRep, error) {
	key := dedupKey{rep: kind, fingerprint: farm.Fingerprint64(data)}
	for _, e := range w.dedup[key] {
		if bytes.Equal(e.data, data) {
			return kind | ValueRep(uint64(e.off)), nil
		}
	}

	if err := w.align(8); err != nil {
		return 0, err
	}
	off := w.off
	if uint64(off) > maxPayload {
		return 0, fmt.Errorf("store has grown too large: offset %d exceeds 48 bits", off)
	}
	if err := w.write(data); err != nil {
		return 0, err
	}
	w.dedup[key] = append(w.dedup[key], dedupEntry{data: data, off: off})
	return kind | ValueRep(uint64(off)), nil
}

func (w *Writer) writeScalar(t Type, data []byte) (ValueRep, error) {
	return w.writeOutOfLine(newRep(t, false, false, 0), data)
}

// pack returns the rep for v, writing any out-of-line data it needs.
func (w *Writer) pack(v any) (ValueRep, error) {
	switch v := v.(type) {
	case nil:
		return 0, fmt.Errorf("cannot store a nil value")
	case packedValue:
		return ValueRep(v), nil
	case RawValue:
		if v.store == nil || v.store != w.prior {
			return 0, fmt.Errorf("raw value does not belong to the store being updated")
		}
		return v.Rep, nil

	case bool:
		return inlineRep(TypeBool, boolPayload(v)), nil
	case uint8:
		return inlineRep(TypeUChar, uint32(v)), nil
	case int32:
		return inlineRep(TypeInt, uint32(v)), nil
	case uint32:
		return inlineRep(TypeUInt, v), nil
	case int:
		return w.pack(int64(v))
	case int64:
		if int64(int32(v)) == v {
			return inlineRep(TypeInt64, uint32(int32(v))), nil
		}
		return w.writeScalar(TypeInt64, binary.LittleEndian.AppendUint64(nil, uint64(v)))
	case uint64:
		if v <= math.MaxUint32 {
			return inlineRep(TypeUInt64, uint32(v)), nil
		}
		return w.writeScalar(TypeUInt64, binary.LittleEndian.AppendUint64(nil, v))
	case float32:
		return inlineRep(TypeFloat, math.Float32bits(v)), nil
	case float64:
		return w.packDouble(TypeDouble, v)
	case TimeCode:
		return w.packDouble(TypeTimeCode, float64(v))
	case Specifier:
		return inlineRep(TypeSpecifier, uint32(v)), nil
	case Permission:
		return inlineRep(TypePermission, uint32(v)), nil
	case Variability:
		return inlineRep(TypeVariability, uint32(v)), nil
	case ValueBlock:
		return inlineRep(TypeValueBlock, 0), nil

	case string:
		idx, err := w.addString(v)
		return inlineRep(TypeString, idx), err
	case Token:
		idx, err := w.addToken(v)
		return inlineRep(TypeToken, idx), err
	case AssetPath:
		idx, err := w.addToken(Token(v))
		return inlineRep(TypeAssetPath, idx), err

	case Vec2f:
		return packVec(w, TypeVec2f, v[:])
	case Vec3f:
		return packVec(w, TypeVec3f, v[:])
	case Vec4f:
		return packVec(w, TypeVec4f, v[:])
	case Vec2d:
		return packVec(w, TypeVec2d, v[:])
	case Vec3d:
		return packVec(w, TypeVec3d, v[:])
	case Vec4d:
		return packVec(w, TypeVec4d, v[:])
	case Vec2i:
		return packVec(w, TypeVec2i, v[:])
	case Vec3i:
		return packVec(w, TypeVec3i, v[:])
	case Vec4i:
		return packVec(w, TypeVec4i, v[:])
	case Matrix2d:
		return w.packMatrix(TypeMatrix2d, 2, v[:])
	case Matrix3d:
		return w.packMatrix(TypeMatrix3d, 3, v[:])
	case Matrix4d:
		return w.packMatrix(TypeMatrix4d, 4, v[:])

	case Dictionary:
		return w.packDictionary(v)
	case TokenVector:
		return w.packTokens(TypeTokenVector, false, v)
	case StringVector:
		return w.packStrings(TypeStringVector, false, v)
	case PathVector:
		data := appendU64(nil, len(v))
		for _, p := range v {
			if p.IsEmpty() {
				return 0, fmt.Errorf("path vector holds an empty path")
			}
			data = binary.LittleEndian.AppendUint32(data, w.addPath(p))
		}
		return w.writeScalar(TypePathVector, data)
	case DoubleVector:
		return w.writeScalar(TypeDoubleVector, appendLE(appendU64(nil, len(v)), v))
	case TokenListOp:
		return packListOp(w, TypeTokenListOp, v, func(t Token) (uint32, error) { return w.addToken(t) })
	case PathListOp:
		return packListOp(w, TypePathListOp, v, func(p Path) (uint32, error) {
			if p.IsEmpty() {
				return 0, fmt.Errorf("path list op holds an empty path")
			}
			return w.addPath(p), nil
		})
	case TimeSamples:
		return w.packTimeSamples(v)

	case arrayValue:
		return w.pack(v.elements())
	case []uint8:
		return packArray(w, TypeUChar, v)
	case []int32:
		return packIntArray(w, TypeInt, v)
	case []uint32:
		return packIntArray(w, TypeUInt, v)
	case []int64:
		return packIntArray(w, TypeInt64, v)
	case []uint64:
		return packIntArray(w, TypeUInt64, v)
	case []float32:
		return packArray(w, TypeFloat, v)
	case []float64:
		return packArray(w, TypeDouble, v)
	case []TimeCode:
		return packArray(w, TypeTimeCode, v)
	case []Vec2f:
		return packArray(w, TypeVec2f, v)
	case []Vec3f:
		return packArray(w, TypeVec3f, v)
	case []Vec4f:
		return packArray(w, TypeVec4f, v)
	case []Vec2d:
		return packArray(w, TypeVec2d, v)
	case []Vec3d:
		return packArray(w, TypeVec3d, v)
	case []Vec4d:
		return packArray(w, TypeVec4d, v)
	case []Vec2i:
		return packArray(w, TypeVec2i, v)
	case []Vec3i:
		return packArray(w, TypeVec3i, v)
	case []Vec4i:
		return packArray(w, TypeVec4i, v)
	case []Matrix2d:
		return packArray(w, TypeMatrix2d, v)
	case []Matrix3d:
		return packArray(w, TypeMatrix3d, v)
	case []Matrix4d:
		return packArray(w, TypeMatrix4d, v)
	case []Token:
		return w.packTokens(TypeToken, true, v)
	case []AssetPath:
		toks := make([]Token, len(v))
		for i, a := range v {
			toks[i] = Token(a)
		}
		return w.packTokens(TypeAssetPath, true, toks)
	case []string:
		return w.packStrings(TypeString, true, v)
	}
	return 0, fmt.Errorf("unsupported value type %T", v)
}

// packDouble inlines doubles that survive a round trip through float32.
func (w *Writer) packDouble(t Type, v float64) (ValueRep, error) {
	if f := float32(v); float64(f) == v {
		return inlineRep(t, math.Float32bits(f)), nil
	}
	return w.writeScalar(t, binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)))
}

// inlineInt8s packs up to four components into a payload when every one of
// them is an integer in int8 range, which covers zero and unit vectors.
func inlineInt8s[T float32 | float64 | int32](comps []T) (uint32, bool) {
	if len(comps) > 4 {
		return 0, false
	}
	var payload uint32
	for i, c := range comps {
		i8 := int8(c)
		if T(i8) != c || (float64(c) == 0 && math.Signbit(float64(c))) {
			return 0, false
		}
		payload |= uint32(uint8(i8)) << (8 * i)
	}
	return payload, true
}

func packVec[T float32 | float64 | int32](w *Writer, t Type, comps []T) (ValueRep, error) {
	if payload, ok := inlineInt8s(comps); ok {
		return inlineRep(t, payload), nil
	}
	return w.writeScalar(t, appendLE(nil, comps))
}

// packMatrix inlines diagonal matrices with small integer diagonals, such
// as the identity.
func (w *Writer) packMatrix(t Type, dim int, m []float64) (ValueRep, error) {
	diag := make([]float64, dim)
	diagonal := true
	for r := 0; r < dim && diagonal; r++ {
		for c := 0; c < dim; c++ {
			v := m[r*dim+c]
			if r == c {
				diag[r] = v
			} else if v != 0 {
				diagonal = false
				break
			}
		}
	}
	if diagonal {
		if payload, ok := inlineInt8s(diag); ok {
			return inlineRep(t, payload), nil
		}
	}
	return w.writeScalar(t, appendLE(nil, m))
}

func (w *Writer) packDictionary(d Dictionary) (ValueRep, error) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	data := appendU64(nil, len(keys))
	for _, k := range keys {
		// nested values are written before the dictionary that refers to them
		rep, err := w.pack(d[k])
		if err != nil {
			return 0, fmt.Errorf("dictionary key %q: %w", k, err)
		}
		idx, err := w.addString(k)
		if err != nil {
			return 0, err
		}
		data = binary.LittleEndian.AppendUint32(data, idx)
		data = binary.LittleEndian.AppendUint64(data, uint64(rep))
	}
	return w.writeScalar(TypeDictionary, data)
}

func (w *Writer) packTokens(t Type, array bool, toks []Token) (ValueRep, error) {
	if array && len(toks) == 0 {
		return newRep(t, true, true, 0), nil
	}
	data := appendU64(nil, len(toks))
	for _, tok := range toks {
		idx, err := w.addToken(tok)
		if err != nil {
			return 0, err
		}
		data = binary.LittleEndian.AppendUint32(data, idx)
	}
	return w.writeOutOfLine(newRep(t, false, array, 0), data)
}

func (w *Writer) packStrings(t Type, array bool, strs []string) (ValueRep, error) {
	if array && len(strs) == 0 {
		return newRep(t, true, true, 0), nil
	}
	data := appendU64(nil, len(strs))
	for _, s := range strs {
		idx, err := w.addString(s)
		if err != nil {
			return 0, err
		}
		data = binary.LittleEndian.AppendUint32(data, idx)
	}
	return w.writeOutOfLine(newRep(t, false, array, 0), data)
}

// List op header bits.
const (
	listOpExplicit     = 1 << 0
	listOpHasItems     = 1 << 1
	listOpHasAdded     = 1 << 2
	listOpHasDeleted   = 1 << 3
	listOpHasOrdered   = 1 << 4
	listOpHasPrepended = 1 << 5
	listOpHasAppended  = 1 << 6
)

type listOpPart[T Token | Path] struct {
	bit   byte
	items *[]T
}

func listOpParts[T Token | Path](op *ListOp[T]) []listOpPart[T] {
	return []listOpPart[T]{
		{listOpHasItems, &op.Items},
		{listOpHasAdded, &op.Added},
		{listOpHasPrepended, &op.Prepended},
		{listOpHasAppended, &op.Appended},
		{listOpHasDeleted, &op.Deleted},
		{listOpHasOrdered, &op.Ordered},
	}
}

func packListOp[T Token | Path](w *Writer, t Type, op ListOp[T], index func(T) (uint32, error)) (ValueRep, error) {
	var header byte
	if op.Explicit {
		header |= listOpExplicit
	}
	parts := listOpParts(&op)
	for _, part := range parts {
		if len(*part.items) > 0 {
			header |= part.bit
		}
	}

	data := []byte{header}
	for _, part := range parts {
		if len(*part.items) == 0 {
			continue
		}
		data = appendU64(data, len(*part.items))
		for _, item := range *part.items {
			idx, err := index(item)
			if err != nil {
				return 0, err
			}
			data = binary.LittleEndian.AppendUint32(data, idx)
		}
	}
	return w.writeScalar(t, data)
}

func packArray[T any](w *Writer, t Type, vals []T) (ValueRep, error) {
	if len(vals) == 0 {
		return newRep(t, true, true, 0), nil
	}
	return w.writeOutOfLine(newRep(t, false, true, 0), appendLE(appendU64(nil, len(vals)), vals))
}

// packIntArray delta codes and compresses long integer arrays.
func packIntArray[T int32 | uint32 | int64 | uint64](w *Writer, t Type, vals []T) (ValueRep, error) {
	if !w.opts.compressArrays || len(vals) < minCompressedArrayLen {
		return packArray(w, t, vals)
	}
	ints := make([]int64, len(vals))
	for i, v := range vals {
		ints[i] = int64(v)
	}
	data, err := compress.AppendBlob(appendU64(nil, len(vals)), w.opts.codec, compress.AppendInts(nil, ints))
	if err != nil {
		return 0, err
	}
	return w.writeOutOfLine(newRep(t, false, true, 0).withCompressed(), data)
}

// packTimeSamples writes the sample times (shared with any other samples
// at the same times), then a record holding the times' rep, the sample
// count and each sample's rep.
func (w *Writer) packTimeSamples(ts TimeSamples) (ValueRep, error) {
	if ts.src != nil {
		if ts.src != w.prior {
			return 0, fmt.Errorf("time samples from another store must be copied first")
		}
		return ts.rep, nil
	}
	if err := ts.validate(); err != nil {
		return 0, err
	}

	timesRep, err := w.pack(DoubleVector(ts.Times))
	if err != nil {
		return 0, fmt.Errorf("times: %w", err)
	}
	data := binary.LittleEndian.AppendUint64(nil, uint64(timesRep))
	data = appendU64(data, len(ts.Values))
	for i, v := range ts.Values {
		rep, err := w.pack(v)
		if err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		data = binary.LittleEndian.AppendUint64(data, uint64(rep))
	}
	return w.writeScalar(TypeTimeSamples, data)
}
