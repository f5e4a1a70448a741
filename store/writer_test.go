// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/scenestore/asset"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return string(s.buf)
}

func (s *safeBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

func (s *safeBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *safeBuffer) WriteAt(p []byte, off int64) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(off)+len(p) > len(s.buf) {
		return 0, errors.New("writeAt out of bounds")
	}

	return copy(s.buf[off:int(off)+len(p)], p), nil
}

var _ FileWriter = &safeBuffer{}

type testWriter struct {
	inner            FileWriter
	writeShouldError bool
}

func (c *testWriter) Write(p []byte) (n int, err error) {
	if c.writeShouldError {
		return 0, errors.New("write failed")
	}
	return c.inner.Write(p)
}

func (c *testWriter) WriteAt(p []byte, off int64) (n int, err error) {
	if c.writeShouldError {
		return 0, errors.New("write failed")
	}
	return c.inner.WriteAt(p, off)
}

var _ FileWriter = &testWriter{}

// buildStore writes a store in memory with fn and opens it.
func buildStore(t *testing.T, fn func(w *Writer), opts ...OpenOption) (*Store, []byte) {
	t.Helper()
	var fileBytes safeBuffer
	w, err := NewWriter(&fileBytes)
	require.NoError(t, err)
	fn(w)
	require.NoError(t, w.Close())

	b := fileBytes.Bytes()
	s, err := OpenAsset("test", asset.FromBytes(b), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, b
}

func TestNewWriter_Errors(t *testing.T) {
	var fileBytes safeBuffer
	writer := &testWriter{
		inner:            &fileBytes,
		writeShouldError: true,
	}

	_, err := NewWriter(writer)
	assert.Error(t, err)
}

func TestWriter_CloseFailureWrapsErrWrite(t *testing.T) {
	var fileBytes safeBuffer
	writer := &testWriter{inner: &fileBytes}

	w, err := NewWriter(writer)
	require.NoError(t, err)
	require.NoError(t, w.AddSpec(MustParsePath("/A"), SpecPrim, nil))

	writer.writeShouldError = true
	err = w.Close()
	require.ErrorIs(t, err, ErrWrite)

	// the failed session was discarded
	assert.ErrorIs(t, w.Close(), ErrClosed)
}

func TestWriter_States(t *testing.T) {
	var fileBytes safeBuffer
	w, err := NewWriter(&fileBytes)
	require.NoError(t, err)

	require.NoError(t, w.AddSpec(MustParsePath("/A"), SpecPrim, []Field{{Name: "x", Value: int32(1)}}))
	require.NoError(t, w.Close())
	size := len(fileBytes.String())

	// multiple closes should be fine, and change nothing
	require.NoError(t, w.Close())
	assert.Equal(t, size, len(fileBytes.String()))
	// as should a deferred Discard
	require.NoError(t, w.Discard())

	assert.ErrorIs(t, w.AddSpec(MustParsePath("/B"), SpecPrim, nil), ErrClosed)
}

func TestWriter_RejectsBadSpecs(t *testing.T) {
	var fileBytes safeBuffer
	w, err := NewWriter(&fileBytes)
	require.NoError(t, err)
	defer func() { _ = w.Discard() }()

	a := MustParsePath("/A")
	require.NoError(t, w.AddSpec(a, SpecPrim, nil))
	assert.Error(t, w.AddSpec(a, SpecPrim, nil), "duplicate spec")
	assert.Error(t, w.AddSpec(EmptyPath, SpecPrim, nil))
	assert.Error(t, w.AddSpec(MustParsePath("/B"), numSpecKinds, nil))

	for _, ts := range []TimeSamples{
		{Times: []float64{1, 1}, Values: []any{int32(1), int32(2)}},
		{Times: []float64{2, 1}, Values: []any{int32(1), int32(2)}},
		{Times: []float64{1, 2}, Values: []any{int32(1)}},
	} {
		err := w.AddSpec(MustParsePath("/C"), SpecAttribute, []Field{{Name: "default", Value: ts}})
		assert.Error(t, err, "%v", ts.Times)
	}

	err = w.AddSpec(MustParsePath("/D"), SpecAttribute, []Field{{Name: "v", Value: struct{}{}}})
	assert.Error(t, err)
	err = w.AddSpec(MustParsePath("/E"), SpecAttribute, []Field{{Name: "v", Value: nil}})
	assert.Error(t, err)
}

func TestCreate_DiscardLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.store")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.AddSpec(MustParsePath("/A"), SpecPrim, []Field{{Name: "x", Value: "hello"}}))
	require.NoError(t, w.Discard())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, w.Close(), ErrClosed)
}

func TestCreate_CommitsOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.store")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.AddSpec(MustParsePath("/A"), SpecPrim, []Field{{Name: "x", Value: "hello"}}))

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "nothing is visible before Close")

	require.NoError(t, w.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	v, err := s.Get(MustParsePath("/A"), "x")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestWriter_FieldDedup(t *testing.T) {
	s, _ := buildStore(t, func(w *Writer) {
		fields := []Field{
			{Name: "kind", Value: Token("mesh")},
			{Name: "points", Value: []Vec3f{{0.5, 1, 2}, {3, 4, 5.5}}},
		}
		for _, p := range []string{"/A", "/B", "/C"} {
			require.NoError(t, w.AddSpec(MustParsePath(p), SpecPrim, fields))
		}
	})

	assert.Equal(t, 2, s.NumFields())
	assert.Equal(t, 1, s.NumFieldSets())
	repA, ok := s.FieldRep(MustParsePath("/A"), "points")
	require.True(t, ok)
	repC, ok := s.FieldRep(MustParsePath("/C"), "points")
	require.True(t, ok)
	assert.Equal(t, repA, repC)
}

func TestWriter_InlineValuesWriteNoValueData(t *testing.T) {
	s, _ := buildStore(t, func(w *Writer) {
		require.NoError(t, w.AddSpec(MustParsePath("/A"), SpecPrim, []Field{
			{Name: "i", Value: int32(5)},
			{Name: "d", Value: 0.5},
			{Name: "v", Value: Vec3f{0, 1, -1}},
			{Name: "m", Value: Matrix4d{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}},
			{Name: "s", Value: "str"},
			{Name: "empty", Value: []float32{}},
		}))
	})

	// the first structural section starts right after the header
	assert.Equal(t, int64(fileHeaderSize), s.Sections()[0].Start)
	for _, name := range []Token{"i", "d", "v", "m", "s", "empty"} {
		rep, ok := s.FieldRep(MustParsePath("/A"), name)
		require.True(t, ok)
		assert.True(t, rep.IsInlined(), "%s: %s", name, rep)
	}
}
