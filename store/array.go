// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"bytes"
	"encoding/binary"

	"github.com/bpowers/scenestore/internal/unsafeslice"
	"github.com/bpowers/scenestore/mmap"
)

// Array is a read-only array value.  Arrays read from a mapped store may
// alias the mapping directly; such views stay valid, even after the Store
// is closed, until Release is called.
type Array[T any] struct {
	data []T
	ref  *mmap.RangeRef
}

// NewArray wraps data, which must not be modified afterwards.
func NewArray[T any](data []T) Array[T] {
	return Array[T]{data: data}
}

func (a Array[T]) Len() int {
	return len(a.data)
}

func (a Array[T]) At(i int) T {
	return a.data[i]
}

// Slice returns the elements.  The result must not be modified, and must
// not be used after Release.
func (a Array[T]) Slice() []T {
	return a.data
}

// ZeroCopy reports whether the array aliases a file mapping.
func (a Array[T]) ZeroCopy() bool {
	return a.ref != nil
}

// Release gives up the array's hold on its mapping, if any.
func (a Array[T]) Release() error {
	return a.ref.Release()
}

// MarshalYAML encodes the array as a plain sequence.
func (a Array[T]) MarshalYAML() (any, error) {
	return a.data, nil
}

func (a Array[T]) elements() any {
	return a.data
}

// arrayValue lets the writer accept any Array instantiation.
type arrayValue interface {
	elements() any
}

// appendLE appends the little-endian encoding of vals, which must be a
// slice of fixed-size, pointer-free elements.
func appendLE[T any](dst []byte, vals []T) []byte {
	if unsafeslice.LittleEndian {
		return append(dst, unsafeslice.Bytes(vals)...)
	}
	buf := bytes.NewBuffer(dst)
	if err := binary.Write(buf, binary.LittleEndian, vals); err != nil {
		panic("appendLE: unsupported element type: " + err.Error())
	}
	return buf.Bytes()
}

// decodeLE fills dst from little-endian src, which must be exactly the
// size of dst.
func decodeLE[T any](dst []T, src []byte) error {
	if unsafeslice.LittleEndian {
		copy(unsafeslice.Bytes(dst), src)
		return nil
	}
	return binary.Read(bytes.NewReader(src), binary.LittleEndian, dst)
}
