// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package archive reads and writes packages: uncompressed, zip-compatible
// containers whose entries' data always starts on a 64-byte boundary, so
// embedded stores can be mapped and read in place.
//
// Each entry is a local header followed by its bytes:
//
//	+-----------+---------+-------+--------+------+------+-------+
//	| sig (u32) | version | flags | method | time | date | crc32 |
//	+-----------+---------+-------+--------+------+------+-------+
//	| size (u32) | uncompressed size (u32) | name len | extra len |
//	+------------+-------------------------+----------+-----------+
//	| name | extra (alignment padding) | data...                 |
//	+------+---------------------------+-------------------------+
//
// A central directory header per entry and an end record follow the last
// entry, as in any zip file.
package archive

import (
	"encoding/binary"
	"io"
	"log/slog"
	"time"
)

const (
	localHeaderSig    = 0x04034b50
	centralHeaderSig  = 0x02014b50
	endRecordSig      = 0x06054b50
	localHeaderSize   = 4*4 + 2*7
	centralHeaderSize = 4*6 + 2*11
	endRecordSize     = 4*3 + 2*5
	versionForExtract = 10
	methodStore       = 0
	flagEncrypted     = 1 << 0
	paddingHeaderID   = 0x1986
	paddingHeaderSize = 2 + 2
	dataAlignment     = 64
	maxPaddingSize    = paddingHeaderSize + dataAlignment
	maxNameLen        = 1<<16 - 1
	maxOffset         = 1<<32 - 1
)

// Entry describes one file in a package.
type Entry struct {
	Name             string
	HeaderOffset     int64
	DataOffset       int64
	Size             int64
	UncompressedSize int64
	CRC32            uint32
	Method           uint16
	Encrypted        bool
	ModTime          time.Time
}

// localHeader is the fixed part of an entry's header.
type localHeader struct {
	flags            uint16
	method           uint16
	modTime          uint16
	modDate          uint16
	crc32            uint32
	size             uint32
	uncompressedSize uint32
	nameLen          uint16
	extraLen         uint16
}

func (h *localHeader) appendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, localHeaderSig)
	dst = binary.LittleEndian.AppendUint16(dst, versionForExtract)
	dst = binary.LittleEndian.AppendUint16(dst, h.flags)
	dst = binary.LittleEndian.AppendUint16(dst, h.method)
	dst = binary.LittleEndian.AppendUint16(dst, h.modTime)
	dst = binary.LittleEndian.AppendUint16(dst, h.modDate)
	dst = binary.LittleEndian.AppendUint32(dst, h.crc32)
	dst = binary.LittleEndian.AppendUint32(dst, h.size)
	dst = binary.LittleEndian.AppendUint32(dst, h.uncompressedSize)
	dst = binary.LittleEndian.AppendUint16(dst, h.nameLen)
	return binary.LittleEndian.AppendUint16(dst, h.extraLen)
}

// appendCentralHeader appends the central directory record for an entry
// whose local header h was written at off.
func appendCentralHeader(dst []byte, h *localHeader, off uint32, name string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, centralHeaderSig)
	dst = binary.LittleEndian.AppendUint16(dst, 0) // made by
	dst = binary.LittleEndian.AppendUint16(dst, versionForExtract)
	dst = binary.LittleEndian.AppendUint16(dst, h.flags)
	dst = binary.LittleEndian.AppendUint16(dst, h.method)
	dst = binary.LittleEndian.AppendUint16(dst, h.modTime)
	dst = binary.LittleEndian.AppendUint16(dst, h.modDate)
	dst = binary.LittleEndian.AppendUint32(dst, h.crc32)
	dst = binary.LittleEndian.AppendUint32(dst, h.size)
	dst = binary.LittleEndian.AppendUint32(dst, h.uncompressedSize)
	dst = binary.LittleEndian.AppendUint16(dst, h.nameLen)
	dst = binary.LittleEndian.AppendUint16(dst, h.extraLen)
	dst = binary.LittleEndian.AppendUint16(dst, 0) // comment length
	dst = binary.LittleEndian.AppendUint16(dst, 0) // disk number start
	dst = binary.LittleEndian.AppendUint16(dst, 0) // internal attributes
	dst = binary.LittleEndian.AppendUint32(dst, 0) // external attributes
	dst = binary.LittleEndian.AppendUint32(dst, off)
	dst = append(dst, name...)
	return appendPadding(dst, h.extraLen)
}

func appendEndRecord(dst []byte, entries int, dirOff, dirLen uint32) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, endRecordSig)
	dst = binary.LittleEndian.AppendUint16(dst, 0) // disk number
	dst = binary.LittleEndian.AppendUint16(dst, 0) // central directory disk
	dst = binary.LittleEndian.AppendUint16(dst, uint16(entries))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(entries))
	dst = binary.LittleEndian.AppendUint32(dst, dirLen)
	dst = binary.LittleEndian.AppendUint32(dst, dirOff)
	return binary.LittleEndian.AppendUint16(dst, 0) // comment length
}

// paddingSize returns the extra field length that moves data written at
// off to the next 64-byte boundary.  Padding too small to hold its own
// 4-byte header grows by a whole alignment unit, as existing packages do.
func paddingSize(off int64) uint16 {
	pad := dataAlignment - off%dataAlignment
	switch {
	case pad == dataAlignment:
		return 0
	case pad < paddingHeaderSize:
		pad += dataAlignment
	}
	return uint16(pad)
}

// appendPadding appends an n-byte padding extra field.
func appendPadding(dst []byte, n uint16) []byte {
	if n == 0 {
		return dst
	}
	dst = binary.LittleEndian.AppendUint16(dst, paddingHeaderID)
	dst = binary.LittleEndian.AppendUint16(dst, n-paddingHeaderSize)
	var zero [maxPaddingSize]byte
	return append(dst, zero[:n-paddingHeaderSize]...)
}

// dosDateTime encodes t's wall clock in MS-DOS format.  Times before 1980
// cannot be represented and are clamped to its start.
func dosDateTime(t time.Time) (dosTime, dosDate uint16) {
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, t.Location())
	}
	dosTime = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	dosDate = uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	return dosTime, dosDate
}

func fromDOSDateTime(dosTime, dosDate uint16) time.Time {
	return time.Date(
		int(dosDate>>9)+1980,
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.Local,
	)
}

// Option configures a Reader or Writer.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets an optional logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
