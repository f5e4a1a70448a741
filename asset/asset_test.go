// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package asset

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/scenestore/mmap"
)

func TestFile_BufferAndSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789abcdef"), 0o644))

	a, err := FileSource{}.Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	assert.Equal(t, int64(16), a.Size())

	sec, err := Section(a, 4, 6, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), sec.Size())

	buf := make([]byte, 4)
	n, err := sec.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "5678", string(buf))

	// reads past the end of the section are clipped
	n, err = sec.ReadAt(buf, 4)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "89", string(buf[:n]))

	m, err := sec.Buffer()
	require.NoError(t, err)
	assert.Equal(t, "456789", string(m.Data()))

	f, base := sec.File()
	require.NotNil(t, f)
	assert.Equal(t, int64(4), base)

	require.NoError(t, sec.Close())
	// the mapping handle outlives both the section and the file asset
	require.NoError(t, a.Close())
	assert.Equal(t, "456789", string(m.Data()))
	require.NoError(t, m.Close())

	_, err = Section(a, 10, 7, nil)
	assert.Error(t, err)
}

func TestFile_BufferRacesClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte("racing"), 0o644))

	for i := 0; i < 50; i++ {
		a, err := OpenFile(path)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := a.Buffer()
			if err != nil {
				assert.True(t, errors.Is(err, ErrClosed) || errors.Is(err, mmap.ErrClosed), "unexpected error %v", err)
				return
			}
			assert.Equal(t, "racing", string(m.Data()))
			assert.NoError(t, m.Close())
		}()
		require.NoError(t, a.Close())
		wg.Wait()

		_, err = a.Buffer()
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestFileSource_NotFound(t *testing.T) {
	_, err := FileSource{}.Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = MemorySource{}.Open("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory(t *testing.T) {
	a, err := MemorySource{"x": []byte("hello")}.Open("x")
	require.NoError(t, err)
	f, _ := a.File()
	assert.Nil(t, f)

	m, err := a.Buffer()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(m.Data()))
	require.NoError(t, m.Close())
	require.NoError(t, a.Close())

	_, err = a.Buffer()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	o, err := OpenForWrite(path, Replace)
	require.NoError(t, err)
	_, err = o.Write([]byte("hello world"))
	require.NoError(t, err)
	_, err = o.WriteAt([]byte("H"), 0)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "destination must not exist before Close")
	require.NoError(t, o.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", string(got))

	o, err = OpenForWrite(path, Update)
	require.NoError(t, err)
	require.NoError(t, o.Truncate(5))
	_, err = o.Write([]byte(", there"))
	require.NoError(t, err)
	require.NoError(t, o.Close())

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Hello, there", string(got))

	o, err = OpenForWrite(path, Replace)
	require.NoError(t, err)
	_, err = o.Write([]byte("discarded"))
	require.NoError(t, err)
	require.NoError(t, o.Discard())

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Hello, there", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}
