// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bitset provides a dense, fixed-size set of small non-negative
// integers, used to check that table indexes are used exactly once.
package bitset

type Bitset struct {
	words []uint64
	n     int
}

// New returns an empty set that can hold the integers [0, n).
func New(n int) *Bitset {
	return &Bitset{
		words: make([]uint64, (n+63)/64),
		n:     n,
	}
}

// Add inserts i and reports whether it was newly added.  Integers outside
// [0, n) are never added.
func (b *Bitset) Add(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	w, mask := &b.words[i/64], uint64(1)<<(uint(i)%64)
	if *w&mask != 0 {
		return false
	}
	*w |= mask
	return true
}
