// Copyright 2021 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package unsafeslice

import (
	"unsafe"
)

// Cast reinterprets b as a slice of T without copying.  ok is false when b
// is not aligned for T or its length is not a multiple of T's size.
// SAFETY: T must be a fixed-size type without pointers, and the caller must
// keep whatever owns b alive for as long as the result is used.
func Cast[T any](b []byte) (out []T, ok bool) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || len(b)%size != 0 {
		return nil, false
	}
	if len(b) == 0 {
		return []T{}, true
	}
	p := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(p)%unsafe.Alignof(zero) != 0 {
		return nil, false
	}
	return unsafe.Slice((*T)(p), len(b)/size), true
}

// Bytes views the memory backing s as bytes.
// SAFETY: T must be a fixed-size type without pointers.
func Bytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// LittleEndian reports whether the host stores multi-byte values
// least-significant byte first, which is the on-disk byte order.
var LittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()
