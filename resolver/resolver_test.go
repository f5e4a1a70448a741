// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package resolver

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/scenestore/archive"
	"github.com/bpowers/scenestore/asset"
)

func TestSplitAndJoin(t *testing.T) {
	for _, tc := range []struct {
		id         string
		outer      [2]string
		inner      [2]string
		isRelative bool
	}{
		{"a", [2]string{"a", ""}, [2]string{"a", ""}, false},
		{"a[b]", [2]string{"a", "b"}, [2]string{"a", "b"}, true},
		{"a[b[c]]", [2]string{"a", "b[c]"}, [2]string{"a[b]", "c"}, true},
		{"x/a.pkg[b.pkg[c/d.store]]", [2]string{"x/a.pkg", "b.pkg[c/d.store]"}, [2]string{"x/a.pkg[b.pkg]", "c/d.store"}, true},
	} {
		assert.Equal(t, tc.isRelative, IsPackageRelative(tc.id), tc.id)
		o, i := SplitOuter(tc.id)
		assert.Equal(t, tc.outer, [2]string{o, i}, "SplitOuter(%s)", tc.id)
		o, i = SplitInner(tc.id)
		assert.Equal(t, tc.inner, [2]string{o, i}, "SplitInner(%s)", tc.id)
		if tc.isRelative {
			assert.Equal(t, tc.id, Join(SplitOuter(tc.id)))
		}
	}

	assert.Equal(t, "a[b[c]]", Join("a", "b", "c"))
	assert.Equal(t, "a[c]", Join("a", "", "c"))
	assert.Equal(t, "a", Join("a"))
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"a", "a[b]", "a[b[c]]", "dir/a.pkg[x.bin]"} {
		assert.NoError(t, Validate(ok), ok)
	}
	for _, bad := range []string{"", "[a]", "a[]", "a[b", "a]", "a[b]c", "a[b][c]", "a[[b]]", "a[b]]"} {
		assert.ErrorIs(t, Validate(bad), ErrSyntax, bad)
	}
}

func buildPackage(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := archive.NewWriter(&buf)
	for _, e := range entries {
		_, err := w.Add(e[0], []byte(e[1]), time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, w.Save())
	return buf.Bytes()
}

type trackedAsset struct {
	asset.Asset
	closed *atomic.Bool
}

func (a trackedAsset) Close() error {
	a.closed.Store(true)
	return a.Asset.Close()
}

// countingSource records every top-level asset it opens.
type countingSource struct {
	inner asset.MemorySource

	mu     sync.Mutex
	opens  map[string]int
	closed []*atomic.Bool
}

func newCountingSource(src asset.MemorySource) *countingSource {
	return &countingSource{inner: src, opens: make(map[string]int)}
}

func (s *countingSource) Open(id string) (asset.Asset, error) {
	a, err := s.inner.Open(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens[id]++
	closed := new(atomic.Bool)
	s.closed = append(s.closed, closed)
	return trackedAsset{Asset: a, closed: closed}, nil
}

func (s *countingSource) allClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.closed {
		if !c.Load() {
			return false
		}
	}
	return true
}

func nestedSource(t *testing.T) (*countingSource, string) {
	const payload = "the innermost payload"
	a := buildPackage(t, [2]string{"x.bin", payload}, [2]string{"y.bin", "other"})
	b := buildPackage(t, [2]string{"readme", "hi"}, [2]string{"A.pkg", string(a)})
	return newCountingSource(asset.MemorySource{
		"A.pkg": a,
		"B.pkg": b,
		"x.bin": []byte(payload),
	}), payload
}

func readAll(t *testing.T, a asset.Asset) []byte {
	t.Helper()
	b, err := io.ReadAll(io.NewSectionReader(a, 0, a.Size()))
	require.NoError(t, err)
	return b
}

func TestResolver_NestedMatchesDirect(t *testing.T) {
	src, payload := nestedSource(t)
	r := New(src)

	direct, err := r.Open("x.bin", nil)
	require.NoError(t, err)
	defer func() { _ = direct.Close() }()

	for _, id := range []string{"A.pkg[x.bin]", "B.pkg[A.pkg[x.bin]]"} {
		a, err := r.Open(id, nil)
		require.NoError(t, err, id)
		assert.Equal(t, readAll(t, direct), readAll(t, a), id)
		assert.Equal(t, payload, string(readAll(t, a)))

		m, err := a.Buffer()
		require.NoError(t, err)
		assert.Equal(t, payload, string(m.Data()))
		require.NoError(t, m.Close())

		require.NoError(t, a.Close())
	}
	// without a scope, closing the entry released every enclosing package
	assert.False(t, src.allClosed(), "direct is still open")
	require.NoError(t, direct.Close())
	assert.True(t, src.allClosed())
}

func TestResolver_NotFound(t *testing.T) {
	src, _ := nestedSource(t)
	r := New(src)

	for _, id := range []string{"missing.bin", "missing.pkg[x.bin]", "A.pkg[missing]", "B.pkg[A.pkg[missing]]"} {
		_, err := r.Open(id, nil)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
	assert.True(t, src.allClosed(), "failed lookups leak nothing")

	_, err := r.Open("A.pkg[x.bin", nil)
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = r.Open("x.bin[y]", nil)
	assert.ErrorIs(t, err, archive.ErrFormat, "x.bin is not a package")
}

func TestScope_SharesPackages(t *testing.T) {
	src, payload := nestedSource(t)
	r := New(src)
	scope := NewScope()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "B.pkg[A.pkg[x.bin]]"
			if i%2 == 1 {
				id = "B.pkg[A.pkg[y.bin]]"
			}
			a, err := r.Open(id, scope)
			if !assert.NoError(t, err) {
				return
			}
			if i%2 == 0 {
				assert.Equal(t, payload, string(readAll(t, a)))
			}
			assert.NoError(t, a.Close())
		}()
	}
	wg.Wait()

	src.mu.Lock()
	assert.Equal(t, 1, src.opens["B.pkg"])
	src.mu.Unlock()
	assert.False(t, src.allClosed(), "the scope keeps packages open")

	require.NoError(t, scope.Close())
	assert.True(t, src.allClosed())
	_, err := r.Open("B.pkg[readme]", scope)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResolver_FileBacked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outer.pkg")
	inner := buildPackage(t, [2]string{"x.bin", "payload on disk"})
	require.NoError(t, os.WriteFile(path, buildPackage(t, [2]string{"inner.pkg", string(inner)}), 0o644))

	r := New(asset.FileSource{})
	a, err := r.Open(Join(path, "inner.pkg", "x.bin"), nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	f, base := a.File()
	require.NotNil(t, f)
	assert.Zero(t, base%64, "entries are aligned")
	buf := make([]byte, a.Size())
	_, err = f.ReadAt(buf, base)
	require.NoError(t, err)
	assert.Equal(t, "payload on disk", string(buf))
}
