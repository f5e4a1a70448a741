// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a store file format version.
type Version struct {
	Major, Minor, Patch uint8
}

// SoftwareVersion is the version written by this package, and the version
// readability and writability are judged against.
//
//	1.0.0: initial format; compressed structural sections and integer arrays.
var SoftwareVersion = Version{1, 0, 0}

// ParseVersion parses "major.minor.patch".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("version %q: want major.minor.patch", s)
	}
	var out [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: %w", s, err)
		}
		out[i] = uint8(n)
	}
	return Version{out[0], out[1], out[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 as v sorts before, equal to or after o.
func (v Version) Compare(o Version) int {
	a := uint32(v.Major)<<16 | uint32(v.Minor)<<8 | uint32(v.Patch)
	b := uint32(o.Major)<<16 | uint32(o.Minor)<<8 | uint32(o.Patch)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CanRead reports whether software at version v can read a file at
// version file: same major, and no newer minor.
func (v Version) CanRead(file Version) bool {
	return file.Major == v.Major && file.Minor <= v.Minor
}

// CanWrite reports whether software at version v can update a file at
// version file in place: same major, and either an older minor or the same
// minor with no newer patch.
func (v Version) CanWrite(file Version) bool {
	return file.Major == v.Major &&
		(file.Minor < v.Minor || (file.Minor == v.Minor && file.Patch <= v.Patch))
}
