// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package compress frames byte blobs with a codec tag so structural
// sections and integer arrays can be stored compressed and decoded
// without out-of-band configuration.
package compress

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the block compressor applied to a blob.  The numeric
// values are written to disk and must never change.
type Codec uint8

const (
	None   Codec = 0
	LZ4    Codec = 1
	Zstd   Codec = 2
	Snappy Codec = 3
)

var errIncompressible = errors.New("data is incompressible")

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a codec name (as printed by String) back to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	default:
		return None, fmt.Errorf("unknown codec %q (want none, lz4, zstd or snappy)", name)
	}
}

// zstd encoders and decoders are safe for concurrent use, so share one of each.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// encode compresses src with c.  errIncompressible is returned when the
// output would not be smaller than the input.
func encode(c Codec, src []byte) ([]byte, error) {
	var out []byte
	switch c {
	case None:
		return nil, errIncompressible
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4.CompressBlock: %w", err)
		}
		if n == 0 {
			return nil, errIncompressible
		}
		out = dst[:n]
	case Zstd:
		out = zstdEncoder.EncodeAll(src, nil)
	case Snappy:
		out = snappy.Encode(nil, src)
	default:
		return nil, fmt.Errorf("unsupported codec %s", c)
	}
	if len(out) >= len(src) {
		return nil, errIncompressible
	}
	return out, nil
}

func decode(c Codec, src []byte, rawLen int) ([]byte, error) {
	switch c {
	case None:
		if len(src) != rawLen {
			return nil, fmt.Errorf("stored blob has %d bytes, expected %d", len(src), rawLen)
		}
		return src, nil
	case LZ4:
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4.UncompressBlock: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawLen)
		}
		return dst, nil
	case Zstd:
		dst, err := zstdDecoder.DecodeAll(src, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("zstd.DecodeAll: %w", err)
		}
		if len(dst) != rawLen {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(dst), rawLen)
		}
		return dst, nil
	case Snappy:
		if n, err := snappy.DecodedLen(src); err != nil {
			return nil, fmt.Errorf("snappy.DecodedLen: %w", err)
		} else if n != rawLen {
			return nil, fmt.Errorf("snappy decompress: got %d bytes, expected %d", n, rawLen)
		}
		dst, err := snappy.Decode(nil, src)
		if err != nil {
			return nil, fmt.Errorf("snappy.Decode: %w", err)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("unsupported codec %s", c)
	}
}
