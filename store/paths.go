// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"runtime"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bpowers/scenestore/internal/bitset"
)

// Jump codes for the compressed path tree.  A positive jump means the node
// has both a child (the next entry) and a sibling (jump entries ahead).
const (
	jumpSiblingOnly = 0
	jumpChildOnly   = -1
	jumpLeaf        = -2
)

// compressedPaths is the path table written depth-first: each entry names
// the table slot it fills, its element token (negated for property
// elements), and where its child and sibling entries are.
type compressedPaths struct {
	pathIndexes   []uint32
	elementTokens []int32
	jumps         []int32
}

func (w *Writer) encodePaths() (compressedPaths, error) {
	sorted := slices.Clone(w.paths)
	slices.SortFunc(sorted, Path.Compare)

	enc := compressedPaths{
		pathIndexes:   make([]uint32, 0, len(sorted)),
		elementTokens: make([]int32, 0, len(sorted)),
		jumps:         make([]int32, 0, len(sorted)),
	}
	if len(sorted) == 0 {
		return enc, nil
	}
	if err := w.encodePathRange(&enc, sorted); err != nil {
		return compressedPaths{}, err
	}
	return enc, nil
}

// nextSubtree returns the index of the first path after i that is not
// beneath paths[i].
func nextSubtree(paths []Path, i int) int {
	j := i + 1
	for j < len(paths) && paths[j].HasPrefix(paths[i]) {
		j++
	}
	return j
}

// encodePathRange encodes paths, a run of siblings together with all of
// their descendants.
func (w *Writer) encodePathRange(enc *compressedPaths, paths []Path) error {
	for cur := 0; cur < len(paths); {
		p := paths[cur]
		next := nextSubtree(paths, cur)
		hasChild := cur+1 != next
		hasSibling := next != len(paths)

		tok, err := w.addToken(Token(p.Name()))
		if err != nil {
			return err
		}
		elem := int32(tok)
		if p.IsPropertyPath() {
			elem = -elem
		}
		this := len(enc.jumps)
		enc.pathIndexes = append(enc.pathIndexes, w.pathIndex[p])
		enc.elementTokens = append(enc.elementTokens, elem)
		enc.jumps = append(enc.jumps, 0)

		switch {
		case hasChild && hasSibling:
			if err := w.encodePathRange(enc, paths[cur+1:next]); err != nil {
				return err
			}
			enc.jumps[this] = int32(len(enc.jumps) - this)
			cur = next
		case hasChild:
			enc.jumps[this] = jumpChildOnly
			cur++
		case hasSibling:
			enc.jumps[this] = jumpSiblingOnly
			cur++
		default:
			enc.jumps[this] = jumpLeaf
			cur++
		}
	}
	return nil
}

type pathDecoder struct {
	tokens []Token
	enc    compressedPaths

	paths   []Path
	visited []atomic.Bool
	g       errgroup.Group
}

// decodePaths rebuilds a table of numPaths paths.  Sibling subtrees are
// built concurrently; the table is only returned once all are done.
func decodePaths(tokens []Token, numPaths int, enc compressedPaths) ([]Path, error) {
	n := len(enc.jumps)
	if len(enc.pathIndexes) != n || len(enc.elementTokens) != n {
		return nil, integrityErrorf("%s: mismatched path array lengths", PathsSection)
	}
	if n != numPaths {
		return nil, integrityErrorf("%s: %d encoded paths for a table of %d", PathsSection, n, numPaths)
	}
	if n == 0 {
		return nil, nil
	}

	// every table slot must be written exactly once, which also keeps
	// concurrent builders from ever touching the same slot
	seen := bitset.New(numPaths)
	for _, idx := range enc.pathIndexes {
		if int(idx) >= numPaths {
			return nil, integrityErrorf("%s: path index %d out of range [0, %d)", PathsSection, idx, numPaths)
		}
		if !seen.Add(int(idx)) {
			return nil, integrityErrorf("%s: path index %d encoded twice", PathsSection, idx)
		}
	}

	d := &pathDecoder{
		tokens:  tokens,
		enc:     enc,
		paths:   make([]Path, numPaths),
		visited: make([]atomic.Bool, n),
	}
	d.g.SetLimit(runtime.GOMAXPROCS(0))

	err := d.build(0, EmptyPath)
	if werr := d.g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return nil, err
	}
	for i, p := range d.paths {
		if p.IsEmpty() {
			return nil, integrityErrorf("%s: path %d is unreachable", PathsSection, i)
		}
	}
	return d.paths, nil
}

func (d *pathDecoder) build(cur int, parent Path) error {
	for {
		if cur < 0 || cur >= len(d.enc.jumps) {
			return integrityErrorf("%s: entry %d out of range", PathsSection, cur)
		}
		this := cur
		cur++
		if d.visited[this].Swap(true) {
			return integrityErrorf("%s: entry %d reached twice", PathsSection, this)
		}

		var p Path
		if parent.IsEmpty() {
			p = AbsoluteRoot
		} else {
			tok := int64(d.enc.elementTokens[this])
			isProperty := tok < 0
			if isProperty {
				tok = -tok
			}
			if tok >= int64(len(d.tokens)) {
				return integrityErrorf("%s: element token %d out of range", PathsSection, tok)
			}
			var err error
			if isProperty {
				p, err = parent.AppendProperty(string(d.tokens[tok]))
			} else {
				p, err = parent.AppendChild(string(d.tokens[tok]))
			}
			if err != nil {
				return integrityErrorf("%s: %s", PathsSection, err)
			}
		}
		d.paths[d.enc.pathIndexes[this]] = p

		jump := d.enc.jumps[this]
		if jump < jumpLeaf {
			return integrityErrorf("%s: bad jump %d at entry %d", PathsSection, jump, this)
		}
		hasChild := jump > 0 || jump == jumpChildOnly
		hasSibling := jump >= 0
		if hasSibling && parent.IsEmpty() {
			return integrityErrorf("%s: the root path has a sibling", PathsSection)
		}
		if hasChild {
			if hasSibling {
				sibling, sibParent := this+int(jump), parent
				if !d.g.TryGo(func() error { return d.build(sibling, sibParent) }) {
					if err := d.build(sibling, sibParent); err != nil {
						return err
					}
				}
			}
			parent = p
		}
		if !hasChild && !hasSibling {
			return nil
		}
	}
}
