// Copyright 2023 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package mmap

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, pages int, fill byte) string {
	path := filepath.Join(t.TempDir(), "mapped.bin")
	data := bytes.Repeat([]byte{fill}, pages*os.Getpagesize())
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestMapping_RangeOutlivesOwner(t *testing.T) {
	pageSize := os.Getpagesize()
	path := writeTestFile(t, 3, 'a')

	m, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 3*pageSize, m.Len())

	// a range straddling the boundary between the first and second page
	view := m.Data()[pageSize-10 : pageSize+10]
	ref, err := m.AddRangeReference(view)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Outstanding())

	require.NoError(t, m.Close())
	assert.True(t, m.Detached())

	// rewriting the file must not be visible through the detached view
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{'z'}, 3*pageSize), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, bytes.Repeat([]byte{'a'}, 20), view)

	require.NoError(t, ref.Release())
	// double release is harmless
	require.NoError(t, ref.Release())
}

func TestMapping_SharedRangesAreCounted(t *testing.T) {
	m, err := Open(writeTestFile(t, 1, 'q'))
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	view := m.Data()[8:16]
	r1, err := m.AddRangeReference(view)
	require.NoError(t, err)
	r2, err := m.AddRangeReference(view)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Outstanding())
	// 1 owner + 1 in-use range
	assert.Equal(t, int64(2), m.r.refs.Load())

	require.NoError(t, r1.Release())
	assert.Equal(t, 1, m.Outstanding())
	require.NoError(t, r2.Release())
	assert.Equal(t, 0, m.Outstanding())
	assert.Equal(t, int64(1), m.r.refs.Load())
}

func TestMapping_Slice(t *testing.T) {
	m := FromBytes([]byte("outer[inner]"))
	inner, err := m.Slice(6, 5)
	require.NoError(t, err)
	assert.Equal(t, "inner", string(inner.Data()))

	_, err = m.Slice(6, 100)
	assert.Error(t, err)
	_, err = m.Slice(-1, 1)
	assert.Error(t, err)

	// closing the outer handle leaves the sub-range owner in charge
	require.NoError(t, m.Close())
	assert.False(t, inner.Detached())
	ref, err := inner.AddRangeReference(inner.Data()[1:3])
	require.NoError(t, err)

	require.NoError(t, inner.Close())
	assert.True(t, inner.Detached())
	_, err = inner.AddRangeReference(inner.Data())
	assert.ErrorIs(t, err, ErrDetached)
	require.NoError(t, ref.Release())

	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMapping_ForeignRange(t *testing.T) {
	m := FromBytes(make([]byte, 64))
	defer func() { _ = m.Close() }()

	_, err := m.AddRangeReference(make([]byte, 8))
	assert.ErrorIs(t, err, ErrForeignRange)

	ref, err := m.AddRangeReference(nil)
	require.NoError(t, err)
	require.NoError(t, ref.Release())

	var nilRef *RangeRef
	assert.NoError(t, nilRef.Release())
}

func TestMap_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	m, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	require.NoError(t, m.Close())
}

func TestMapping_RegisterRacesClose(t *testing.T) {
	const pages = 4
	pageSize := os.Getpagesize()
	path := writeTestFile(t, pages, 'r')

	m, err := Open(path)
	require.NoError(t, err)
	data := m.Data()

	var (
		mu    sync.Mutex
		refs  []*RangeRef
		views [][]byte
		wg    sync.WaitGroup
	)
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				off := (g*pageSize/2 + i*16) % (len(data) - 8)
				view := data[off : off+8]
				ref, err := m.AddRangeReference(view)
				if err != nil {
					assert.True(t, errors.Is(err, ErrClosed) || errors.Is(err, ErrDetached), "unexpected error %v", err)
					return
				}
				mu.Lock()
				refs = append(refs, ref)
				views = append(views, view)
				mu.Unlock()
			}
		}(g)
	}
	close(start)
	require.NoError(t, m.Close())
	wg.Wait()

	// every range that registered successfully was detached from the file
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{'z'}, pages*pageSize), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	for _, view := range views {
		assert.Equal(t, bytes.Repeat([]byte{'r'}, 8), view)
	}

	for _, ref := range refs {
		require.NoError(t, ref.Release())
	}
	assert.Equal(t, int64(0), m.r.refs.Load())
	assert.True(t, m.r.unmapped.Load())
}
