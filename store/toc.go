// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	sectionNameSize   = 16
	sectionNameMaxLen = sectionNameSize - 1
	sectionEntrySize  = sectionNameSize + 8 + 8
)

// Known section names, in the order they are written.
const (
	TokensSection    = "TOKENS"
	StringsSection   = "STRINGS"
	FieldsSection    = "FIELDS"
	FieldSetsSection = "FIELDSETS"
	PathsSection     = "PATHS"
	SpecsSection     = "SPECS"
)

var knownSections = []string{
	TokensSection,
	StringsSection,
	FieldsSection,
	FieldSetsSection,
	PathsSection,
	SpecsSection,
}

func isKnownSection(name string) bool {
	for _, k := range knownSections {
		if k == name {
			return true
		}
	}
	return false
}

// Section is an entry in the table of contents.
type Section struct {
	Name  string
	Start int64
	Size  int64
}

func appendTOC(dst []byte, sections []Section) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(sections)))
	for _, s := range sections {
		if len(s.Name) == 0 || len(s.Name) > sectionNameMaxLen {
			return nil, fmt.Errorf("section name %q must be 1 to %d bytes", s.Name, sectionNameMaxLen)
		}
		var name [sectionNameSize]byte
		copy(name[:], s.Name)
		dst = append(dst, name[:]...)
		dst = binary.LittleEndian.AppendUint64(dst, uint64(s.Start))
		dst = binary.LittleEndian.AppendUint64(dst, uint64(s.Size))
	}
	return dst, nil
}

// parseTOC decodes count section entries from b, checking that each lies
// within a file of fileSize bytes.
func parseTOC(b []byte, count int, fileSize int64) ([]Section, error) {
	if len(b) != count*sectionEntrySize {
		return nil, formatErrorf("table of contents holds %d bytes, want %d for %d sections", len(b), count*sectionEntrySize, count)
	}
	sections := make([]Section, 0, count)
	seen := make(map[string]bool, count)
	for i := 0; i < count; i++ {
		e := b[i*sectionEntrySize : (i+1)*sectionEntrySize]
		name := e[:sectionNameSize]
		if n := bytes.IndexByte(name, 0); n >= 0 {
			name = name[:n]
		} else {
			return nil, formatErrorf("section %d name is not terminated", i)
		}
		s := Section{
			Name:  string(name),
			Start: int64(binary.LittleEndian.Uint64(e[sectionNameSize : sectionNameSize+8])),
			Size:  int64(binary.LittleEndian.Uint64(e[sectionNameSize+8:])),
		}
		if s.Start < fileHeaderSize || s.Size < 0 || s.Start > fileSize || s.Size > fileSize-s.Start {
			return nil, formatErrorf("section %q [%d, %d+%d) lies outside the file (%d bytes)", s.Name, s.Start, s.Start, s.Size, fileSize)
		}
		if seen[s.Name] {
			return nil, formatErrorf("duplicate section %q", s.Name)
		}
		seen[s.Name] = true
		sections = append(sections, s)
	}
	return sections, nil
}
