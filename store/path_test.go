// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	for _, valid := range []string{
		"/",
		"/World",
		"/World/Mesh_01",
		"/World/Mesh.points",
		"/World.primvars:st",
	} {
		p, err := ParsePath(valid)
		require.NoError(t, err, valid)
		assert.Equal(t, valid, p.String())
	}

	for _, invalid := range []string{
		"World",
		"/World/",
		"//World",
		"/World.a.b",
		"/World.a/b",
		"/1World",
		"/Wor-ld",
		"/World.:x",
	} {
		_, err := ParsePath(invalid)
		assert.Error(t, err, invalid)
	}

	p, err := ParsePath("")
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
}

func TestPath_Accessors(t *testing.T) {
	prop := MustParsePath("/World/Mesh.points")
	assert.True(t, prop.IsPropertyPath())
	assert.Equal(t, "points", prop.Name())
	assert.Equal(t, MustParsePath("/World/Mesh"), prop.Parent())
	assert.Equal(t, MustParsePath("/World"), prop.Parent().Parent())
	assert.Equal(t, AbsoluteRoot, prop.Parent().Parent().Parent())
	assert.Equal(t, EmptyPath, AbsoluteRoot.Parent())

	assert.True(t, prop.HasPrefix(MustParsePath("/World")))
	assert.True(t, prop.HasPrefix(AbsoluteRoot))
	assert.False(t, MustParsePath("/WorldX").HasPrefix(MustParsePath("/World")))

	_, err := prop.AppendChild("x")
	assert.Error(t, err)
	_, err = AbsoluteRoot.AppendProperty("x")
	assert.Error(t, err)
}

func TestPath_Compare(t *testing.T) {
	want := []Path{
		AbsoluteRoot,
		MustParsePath("/A"),
		MustParsePath("/A/B"),
		MustParsePath("/A/B/C"),
		MustParsePath("/A/B.x"),
		MustParsePath("/A/C"),
		MustParsePath("/A.b"),
		MustParsePath("/A.c"),
		MustParsePath("/AB"),
		MustParsePath("/B"),
	}
	got := slices.Clone(want)
	rand.New(rand.NewSource(1)).Shuffle(len(got), func(i, j int) {
		got[i], got[j] = got[j], got[i]
	})
	slices.SortFunc(got, Path.Compare)
	assert.Equal(t, want, got)
}

func randomPaths(r *rand.Rand, n int) *Writer {
	w := &Writer{tables: newTables()}
	prims := []Path{AbsoluteRoot}
	w.addPath(AbsoluteRoot)
	for i := 0; i < n; i++ {
		parent := prims[r.Intn(len(prims))]
		name := fmt.Sprintf("n%d", r.Intn(8))
		if !parent.IsRoot() && r.Intn(4) == 0 {
			p, err := parent.AppendProperty(name)
			if err != nil {
				panic(err)
			}
			w.addPath(p)
			continue
		}
		p, err := parent.AppendChild(name)
		if err != nil {
			panic(err)
		}
		w.addPath(p)
		prims = append(prims, p)
	}
	return w
}

func TestPathCodec_RandomTrees(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, n := range []int{0, 1, 2, 10, 100, 2000} {
		w := randomPaths(r, n)
		enc, err := w.encodePaths()
		require.NoError(t, err)
		require.Len(t, enc.jumps, len(w.paths))

		paths, err := decodePaths(w.tokens, len(w.paths), enc)
		require.NoError(t, err)
		assert.Equal(t, w.paths, paths)
	}
}

func TestPathCodec_Corrupt(t *testing.T) {
	w := randomPaths(rand.New(rand.NewSource(7)), 50)
	enc, err := w.encodePaths()
	require.NoError(t, err)

	clone := func() compressedPaths {
		return compressedPaths{
			pathIndexes:   slices.Clone(enc.pathIndexes),
			elementTokens: slices.Clone(enc.elementTokens),
			jumps:         slices.Clone(enc.jumps),
		}
	}

	bad := clone()
	bad.jumps[1] = int32(len(bad.jumps) + 10)
	_, err = decodePaths(w.tokens, len(w.paths), bad)
	assert.ErrorIs(t, err, ErrIntegrity)

	bad = clone()
	bad.pathIndexes[2] = bad.pathIndexes[1]
	_, err = decodePaths(w.tokens, len(w.paths), bad)
	assert.ErrorIs(t, err, ErrIntegrity)

	bad = clone()
	bad.jumps[0] = jumpSiblingOnly
	_, err = decodePaths(w.tokens, len(w.paths), bad)
	assert.ErrorIs(t, err, ErrIntegrity)

	bad = clone()
	bad.elementTokens[3] = int32(len(w.tokens))
	_, err = decodePaths(w.tokens, len(w.paths), bad)
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = decodePaths(w.tokens, len(w.paths)+1, clone())
	assert.ErrorIs(t, err, ErrIntegrity)
}
