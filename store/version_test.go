// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_Compatibility(t *testing.T) {
	software := Version{1, 2, 3}
	for _, tc := range []struct {
		file     Version
		canRead  bool
		canWrite bool
	}{
		{Version{1, 2, 3}, true, true},
		{Version{1, 2, 0}, true, true},
		{Version{1, 0, 9}, true, true},
		{Version{1, 2, 4}, true, false},
		{Version{1, 3, 0}, false, false},
		{Version{0, 2, 3}, false, false},
		{Version{2, 0, 0}, false, false},
	} {
		assert.Equal(t, tc.canRead, software.CanRead(tc.file), "CanRead(%s)", tc.file)
		assert.Equal(t, tc.canWrite, software.CanWrite(tc.file), "CanWrite(%s)", tc.file)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.20.3")
	require.NoError(t, err)
	assert.Equal(t, Version{1, 20, 3}, v)
	assert.Equal(t, "1.20.3", v.String())
	assert.Equal(t, 0, v.Compare(Version{1, 20, 3}))
	assert.Equal(t, -1, v.Compare(Version{1, 21, 0}))
	assert.Equal(t, 1, v.Compare(Version{1, 19, 255}))

	for _, bad := range []string{"", "1.2", "1.2.3.4", "1.x.3", "1.2.256"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestFileHeader_RoundTrip(t *testing.T) {
	origH := newFileHeader()
	require.Equal(t, SoftwareVersion, origH.version)
	origH.tocOffset = 4096

	// this should be an error
	err := origH.MarshalTo(nil)
	assert.Error(t, err)

	var newH fileHeader
	headerBytes := make([]byte, fileHeaderSize)
	// missing magic
	err = newH.UnmarshalBytes(headerBytes)
	assert.ErrorIs(t, err, ErrFormat)

	err = origH.MarshalTo(headerBytes)
	require.NoError(t, err)
	require.True(t, IsStore(headerBytes))

	err = newH.UnmarshalBytes(nil)
	assert.ErrorIs(t, err, ErrFormat)

	err = newH.UnmarshalBytes(headerBytes)
	require.NoError(t, err)
	assert.Equal(t, origH, &newH)
}

func TestFileHeader_UpdateTOCOffset(t *testing.T) {
	var fileBytes safeBuffer
	h := newFileHeader()
	n, err := h.WriteTo(&fileBytes)
	require.NoError(t, err)
	require.Equal(t, int64(fileHeaderSize), n)

	require.NoError(t, h.UpdateTOCOffset(1234, &fileBytes))

	var got fileHeader
	require.NoError(t, got.UnmarshalBytes([]byte(fileBytes.String())))
	assert.Equal(t, int64(1234), got.tocOffset)
	assert.Equal(t, SoftwareVersion, got.version)
}

func TestTOC_RoundTrip(t *testing.T) {
	sections := []Section{
		{Name: TokensSection, Start: 88, Size: 10},
		{Name: "EXTRA", Start: 104, Size: 0},
	}
	b, err := appendTOC(nil, sections)
	require.NoError(t, err)

	got, err := parseTOC(b[8:], 2, 200)
	require.NoError(t, err)
	assert.Equal(t, sections, got)

	// a section running past the end of the file
	_, err = parseTOC(b[8:], 2, 100)
	assert.ErrorIs(t, err, ErrFormat)

	dup, err := appendTOC(nil, []Section{sections[0], sections[0]})
	require.NoError(t, err)
	_, err = parseTOC(dup[8:], 2, 200)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = appendTOC(nil, []Section{{Name: "A_NAME_TOO_LONG_"}})
	assert.Error(t, err)
}
