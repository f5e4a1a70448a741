// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// BlobHeaderSize is the fixed prefix of every framed blob:
//
//	+------+-----------------+-----------------+----------------+
//	|codec | raw length (u64)| stored len (u64)| stored bytes...|
//	+------+-----------------+-----------------+----------------+
const BlobHeaderSize = 1 + 8 + 8

// ErrCorrupt is returned when a framed blob cannot be decoded.
var ErrCorrupt = errors.New("corrupt compressed blob")

// AppendBlob frames raw with codec c and appends it to dst.  If c does not
// shrink the input the blob is stored uncompressed under the None tag.
func AppendBlob(dst []byte, c Codec, raw []byte) ([]byte, error) {
	stored, err := encode(c, raw)
	if errors.Is(err, errIncompressible) {
		c, stored = None, raw
	} else if err != nil {
		return nil, err
	}

	var hdr [BlobHeaderSize]byte
	hdr[0] = byte(c)
	binary.LittleEndian.PutUint64(hdr[1:9], uint64(len(raw)))
	binary.LittleEndian.PutUint64(hdr[9:17], uint64(len(stored)))
	dst = append(dst, hdr[:]...)
	return append(dst, stored...), nil
}

// ReadBlob decodes the framed blob at the start of src, returning the raw
// bytes and the number of bytes of src consumed.  For blobs stored under
// None the returned slice aliases src.
func ReadBlob(src []byte) (raw []byte, n int, err error) {
	if len(src) < BlobHeaderSize {
		return nil, 0, fmt.Errorf("%w: %d bytes is shorter than the blob header", ErrCorrupt, len(src))
	}
	c := Codec(src[0])
	rawLen := binary.LittleEndian.Uint64(src[1:9])
	storedLen := binary.LittleEndian.Uint64(src[9:17])
	if storedLen > uint64(len(src)-BlobHeaderSize) || rawLen > math.MaxInt32 {
		return nil, 0, fmt.Errorf("%w: stored length %d (raw %d) exceeds %d available bytes", ErrCorrupt, storedLen, rawLen, len(src)-BlobHeaderSize)
	}
	end := BlobHeaderSize + int(storedLen)
	raw, err = decode(c, src[BlobHeaderSize:end], int(rawLen))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	return raw, end, nil
}

// AppendInts appends vals as zigzag varints of successive differences.
// Sorted or slowly varying index arrays shrink to a byte or two per entry
// before any block compression is applied.
func AppendInts(dst []byte, vals []int64) []byte {
	var prev int64
	for _, v := range vals {
		dst = binary.AppendVarint(dst, v-prev)
		prev = v
	}
	return dst
}

// DecodeInts reverses AppendInts, expecting exactly n values in src.
func DecodeInts(src []byte, n int) ([]int64, error) {
	if n < 0 || n > len(src) {
		return nil, fmt.Errorf("%w: %d values cannot fit in %d bytes", ErrCorrupt, n, len(src))
	}
	out := make([]int64, n)
	var prev int64
	for i := range out {
		d, w := binary.Varint(src)
		if w <= 0 {
			return nil, fmt.Errorf("%w: bad varint at value %d", ErrCorrupt, i)
		}
		src = src[w:]
		prev += d
		out[i] = prev
	}
	if len(src) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d values", ErrCorrupt, len(src), n)
	}
	return out, nil
}
