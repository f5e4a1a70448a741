// Copyright 2021 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package unsafeslice

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCast(t *testing.T) {
	if !LittleEndian {
		t.Skip("on-disk layout is little endian")
	}
	vals := []float32{1.5, -2, 3.25, math.MaxFloat32}
	backing := make([]uint64, 4)
	buf := Bytes(backing)[:len(vals)*4]
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	got, ok := Cast[float32](buf)
	require.True(t, ok)
	assert.Equal(t, vals, got)

	// writes through the view land in the original bytes
	got[0] = 9
	assert.Equal(t, math.Float32bits(9), binary.LittleEndian.Uint32(buf))

	_, ok = Cast[float32](buf[:5])
	assert.False(t, ok, "length not a multiple of the element size")
	_, ok = Cast[float32](buf[1:5])
	assert.False(t, ok, "misaligned start")

	empty, ok := Cast[[3]float64](nil)
	require.True(t, ok)
	assert.Len(t, empty, 0)
}
