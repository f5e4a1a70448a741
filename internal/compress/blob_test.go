// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlob_RoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("scenestore-"), 512)
	random := make([]byte, 4096)
	rng := rand.New(rand.NewSource(7))
	_, _ = rng.Read(random)

	for _, c := range []Codec{None, LZ4, Zstd, Snappy} {
		for name, raw := range map[string][]byte{
			"empty":        {},
			"compressible": compressible,
			"random":       random,
		} {
			t.Run(c.String()+"/"+name, func(t *testing.T) {
				blob, err := AppendBlob([]byte{0xAA}, c, raw)
				require.NoError(t, err)
				require.Equal(t, byte(0xAA), blob[0])

				got, n, err := ReadBlob(blob[1:])
				require.NoError(t, err)
				assert.Equal(t, len(blob)-1, n)
				assert.Equal(t, len(raw), len(got))
				assert.True(t, bytes.Equal(raw, got))

				if c != None && name == "compressible" {
					assert.Less(t, len(blob), len(raw))
					assert.Equal(t, byte(c), blob[1])
				}
				if name == "random" {
					// incompressible input falls back to a stored blob
					assert.Equal(t, byte(None), blob[1])
				}
			})
		}
	}
}

func TestReadBlob_Corrupt(t *testing.T) {
	blob, err := AppendBlob(nil, LZ4, bytes.Repeat([]byte{1, 2, 3, 4}, 256))
	require.NoError(t, err)

	_, _, err = ReadBlob(blob[:BlobHeaderSize-1])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, _, err = ReadBlob(blob[:len(blob)-1])
	assert.ErrorIs(t, err, ErrCorrupt)

	bad := append([]byte(nil), blob...)
	bad[0] = 99
	_, _, err = ReadBlob(bad)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestInts_RoundTrip(t *testing.T) {
	vals := []int64{0, 1, 2, 3, 1000, -5, -1 << 40, 1 << 40, 7, 7, 7}
	enc := AppendInts(nil, vals)
	got, err := DecodeInts(enc, len(vals))
	require.NoError(t, err)
	assert.Equal(t, vals, got)

	_, err = DecodeInts(enc, len(vals)-1)
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = DecodeInts(enc[:len(enc)-1], len(vals))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCodec(t *testing.T) {
	for _, c := range []Codec{None, LZ4, Zstd, Snappy} {
		got, err := ParseCodec(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCodec("brotli")
	assert.Error(t, err)
}
