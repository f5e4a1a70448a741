// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
	"strings"
)

// Path is an absolute location in the spec hierarchy: the root "/", prim
// paths like "/World/Mesh", and prim property paths like
// "/World/Mesh.points".  The zero Path is the empty path.
type Path struct {
	s string
}

var (
	EmptyPath    = Path{}
	AbsoluteRoot = Path{"/"}
)

// ParsePath validates and returns the path spelled by s.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return EmptyPath, nil
	}
	if s == "/" {
		return AbsoluteRoot, nil
	}
	if s[0] != '/' {
		return EmptyPath, fmt.Errorf("path %q is not absolute", s)
	}
	p := AbsoluteRoot
	elems := strings.Split(s[1:], "/")
	for i, elem := range elems {
		prim, prop, isProp := strings.Cut(elem, ".")
		var err error
		if p, err = p.AppendChild(prim); err != nil {
			return EmptyPath, fmt.Errorf("path %q: %w", s, err)
		}
		if isProp {
			if i != len(elems)-1 {
				return EmptyPath, fmt.Errorf("path %q: only the last element may be a property", s)
			}
			if p, err = p.AppendProperty(prop); err != nil {
				return EmptyPath, fmt.Errorf("path %q: %w", s, err)
			}
		}
	}
	return p, nil
}

// MustParsePath is ParsePath for known-good literals.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func validName(name string, property bool) error {
	if name == "" {
		return fmt.Errorf("empty path element")
	}
	for i, r := range name {
		switch {
		case r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z'):
		case '0' <= r && r <= '9' && i > 0:
		case r == ':' && property && i > 0:
		default:
			return fmt.Errorf("invalid character %q in path element %q", r, name)
		}
	}
	return nil
}

func (p Path) String() string {
	return p.s
}

func (p Path) MarshalYAML() (any, error) {
	return p.String(), nil
}

func (p Path) IsEmpty() bool {
	return p.s == ""
}

func (p Path) IsRoot() bool {
	return p.s == "/"
}

// IsPropertyPath reports whether p names a property of a prim.
func (p Path) IsPropertyPath() bool {
	slash := strings.LastIndexByte(p.s, '/')
	return slash >= 0 && strings.IndexByte(p.s[slash:], '.') >= 0
}

// Parent returns the path one element up; the root's parent is empty.
func (p Path) Parent() Path {
	switch {
	case p.s == "" || p.s == "/":
		return EmptyPath
	case p.IsPropertyPath():
		return Path{p.s[:strings.LastIndexByte(p.s, '.')]}
	}
	slash := strings.LastIndexByte(p.s, '/')
	if slash == 0 {
		return AbsoluteRoot
	}
	return Path{p.s[:slash]}
}

// Name returns the last element of p, without any property separator.
func (p Path) Name() string {
	if p.s == "" || p.s == "/" {
		return ""
	}
	if p.IsPropertyPath() {
		return p.s[strings.LastIndexByte(p.s, '.')+1:]
	}
	return p.s[strings.LastIndexByte(p.s, '/')+1:]
}

// AppendChild returns the prim path p/name.
func (p Path) AppendChild(name string) (Path, error) {
	if p.IsEmpty() || p.IsPropertyPath() {
		return EmptyPath, fmt.Errorf("cannot append child %q to %q", name, p.s)
	}
	if err := validName(name, false); err != nil {
		return EmptyPath, err
	}
	if p.IsRoot() {
		return Path{"/" + name}, nil
	}
	return Path{p.s + "/" + name}, nil
}

// AppendProperty returns the property path p.name.
func (p Path) AppendProperty(name string) (Path, error) {
	if p.IsEmpty() || p.IsRoot() || p.IsPropertyPath() {
		return EmptyPath, fmt.Errorf("cannot append property %q to %q", name, p.s)
	}
	if err := validName(name, true); err != nil {
		return EmptyPath, err
	}
	return Path{p.s + "." + name}, nil
}

// HasPrefix reports whether p is prefix or lies beneath it.
func (p Path) HasPrefix(prefix Path) bool {
	switch {
	case prefix.IsEmpty() || p.IsEmpty():
		return false
	case prefix.IsRoot() || p == prefix:
		return true
	case !strings.HasPrefix(p.s, prefix.s) || len(p.s) == len(prefix.s):
		return false
	}
	next := p.s[len(prefix.s)]
	return next == '/' || next == '.'
}

type pathElem struct {
	name string
	prop bool
}

func (p Path) elements() []pathElem {
	if p.s == "" || p.s == "/" {
		return nil
	}
	parts := strings.Split(p.s[1:], "/")
	elems := make([]pathElem, 0, len(parts)+1)
	for i, part := range parts {
		if i == len(parts)-1 {
			if prim, prop, ok := strings.Cut(part, "."); ok {
				elems = append(elems, pathElem{name: prim}, pathElem{name: prop, prop: true})
				continue
			}
		}
		elems = append(elems, pathElem{name: part})
	}
	return elems
}

// Compare orders paths element by element, so every path sorts directly
// before the paths beneath it.
func (p Path) Compare(q Path) int {
	if p == q {
		return 0
	}
	if p.IsEmpty() {
		return -1
	} else if q.IsEmpty() {
		return 1
	}
	a, b := p.elements(), q.elements()
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i].name, b[i].name); c != 0 {
			return c
		}
		if a[i].prop != b[i].prop {
			if a[i].prop {
				return 1
			}
			return -1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
