// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package resolver

import (
	"fmt"
	"strings"
)

// IsPackageRelative reports whether id names an entry inside a package,
// as in "outer.pkg[inner.store]".
func IsPackageRelative(id string) bool {
	return strings.HasSuffix(id, "]") && strings.IndexByte(id, '[') > 0
}

// SplitOuter splits id at its outermost package:
//
//	SplitOuter("a[b[c]]") == ("a", "b[c]")
//
// Identifiers that are not package-relative are returned unchanged.
func SplitOuter(id string) (pkg, entry string) {
	if !IsPackageRelative(id) {
		return id, ""
	}
	i := strings.IndexByte(id, '[')
	return id[:i], id[i+1 : len(id)-1]
}

// SplitInner splits id at its innermost package:
//
//	SplitInner("a[b[c]]") == ("a[b]", "c")
//
// Identifiers that are not package-relative are returned unchanged.
func SplitInner(id string) (pkg, entry string) {
	if !IsPackageRelative(id) {
		return id, ""
	}
	i := strings.LastIndexByte(id, '[')
	j := i + strings.IndexByte(id[i:], ']')
	return id[:i] + id[j+1:], id[i+1 : j]
}

// Join nests each of entries inside the previous one:
//
//	Join("a", "b", "c") == "a[b[c]]"
//
// Empty components are dropped.
func Join(pkg string, entries ...string) string {
	var sb strings.Builder
	sb.WriteString(pkg)
	depth := 0
	for _, e := range entries {
		if e == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('[')
			depth++
		}
		sb.WriteString(e)
	}
	sb.WriteString(strings.Repeat("]", depth))
	return sb.String()
}

// Validate checks that id is either a plain identifier or a chain of
// non-empty components each nested in exactly one enclosing package.
// Component names may not contain brackets.
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", ErrSyntax)
	}
	depth, closing := 0, false
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c == '[':
			if closing || i == 0 || id[i-1] == '[' {
				return fmt.Errorf("%w: unexpected '[' at %d in %q", ErrSyntax, i, id)
			}
			depth++
		case c == ']':
			if depth == 0 || id[i-1] == '[' {
				return fmt.Errorf("%w: unexpected ']' at %d in %q", ErrSyntax, i, id)
			}
			depth--
			closing = true
		case closing:
			return fmt.Errorf("%w: trailing characters after ']' in %q", ErrSyntax, id)
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced brackets in %q", ErrSyntax, id)
	}
	return nil
}
