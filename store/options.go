// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"io"
	"log/slog"

	"github.com/bpowers/scenestore/internal/compress"
)

// Codec selects the block compressor for structural sections and large
// integer arrays.
type Codec = compress.Codec

const (
	CodecNone   = compress.None
	CodecLZ4    = compress.LZ4
	CodecZstd   = compress.Zstd
	CodecSnappy = compress.Snappy
)

// ParseCodec maps "none", "lz4", "zstd" or "snappy" to a Codec.
func ParseCodec(name string) (Codec, error) {
	return compress.ParseCodec(name)
}

const (
	defaultZeroCopyMinBytes = 2048
	minCompressedArrayLen   = 16
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WriterOption configures a Writer.
type WriterOption func(*writerOptions)

type writerOptions struct {
	logger         *slog.Logger
	codec          Codec
	compressArrays bool
}

func newWriterOptions(opts []WriterOption) writerOptions {
	options := writerOptions{
		logger:         discardLogger(),
		codec:          CodecLZ4,
		compressArrays: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithWriterLogger sets an optional logger for the writer to use for progress updates.
// If not provided, no logging output will be produced.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(opts *writerOptions) {
		opts.logger = logger
	}
}

// WithCodec selects the compressor for structural sections and integer
// arrays.  The default is LZ4.
func WithCodec(c Codec) WriterOption {
	return func(opts *writerOptions) {
		opts.codec = c
	}
}

// WithArrayCompression controls whether integer arrays of 16 or more
// elements are delta coded and compressed.  Compressed arrays are never
// returned as zero-copy views.
func WithArrayCompression(enabled bool) WriterOption {
	return func(opts *writerOptions) {
		opts.compressArrays = enabled
	}
}

// OpenOption configures how a Store is opened.
type OpenOption func(*openOptions)

type openOptions struct {
	logger           *slog.Logger
	pread            bool
	zeroCopy         bool
	zeroCopyMinBytes int64
}

func newOpenOptions(opts []OpenOption) openOptions {
	options := openOptions{
		logger:           discardLogger(),
		zeroCopy:         true,
		zeroCopyMinBytes: defaultZeroCopyMinBytes,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithLogger sets an optional logger.
func WithLogger(logger *slog.Logger) OpenOption {
	return func(opts *openOptions) {
		opts.logger = logger
	}
}

// WithPositionedReads reads through the asset's ReadAt instead of mapping
// it.  No values are returned as zero-copy views.
func WithPositionedReads() OpenOption {
	return func(opts *openOptions) {
		opts.pread = true
	}
}

// WithZeroCopy controls whether large numeric arrays read from a mapping
// alias it rather than being copied.  Enabled by default.
func WithZeroCopy(enabled bool) OpenOption {
	return func(opts *openOptions) {
		opts.zeroCopy = enabled
	}
}

// WithZeroCopyMinBytes sets the smallest array, in bytes, returned as a
// zero-copy view.  The default is 2048.
func WithZeroCopyMinBytes(n int64) OpenOption {
	return func(opts *openOptions) {
		opts.zeroCopyMinBytes = n
	}
}
