// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
)

// ValueRep describes a stored value in 8 bytes:
//
//	 63   62   61   60..56  55..48   47..0
//	+----+----+----+-------+--------+---------+
//	|arr |inl |cmp | 0     | type   | payload |
//	+----+----+----+-------+--------+---------+
//
// Inline values keep their data in the payload; for everything else the
// payload is the file offset the data was written at.
type ValueRep uint64

const (
	repArrayBit      = uint64(1) << 63
	repInlinedBit    = uint64(1) << 62
	repCompressedBit = uint64(1) << 61
	repTypeShift     = 48
	repPayloadMask   = uint64(1)<<48 - 1

	// maxPayload bounds both inline data and value offsets.
	maxPayload = repPayloadMask
)

func newRep(t Type, inlined, array bool, payload uint64) ValueRep {
	r := uint64(t)<<repTypeShift | payload&repPayloadMask
	if inlined {
		r |= repInlinedBit
	}
	if array {
		r |= repArrayBit
	}
	return ValueRep(r)
}

func (r ValueRep) IsArray() bool {
	return uint64(r)&repArrayBit != 0
}

func (r ValueRep) IsInlined() bool {
	return uint64(r)&repInlinedBit != 0
}

func (r ValueRep) IsCompressed() bool {
	return uint64(r)&repCompressedBit != 0
}

func (r ValueRep) withCompressed() ValueRep {
	return ValueRep(uint64(r) | repCompressedBit)
}

func (r ValueRep) Type() Type {
	return Type(uint64(r) >> repTypeShift)
}

func (r ValueRep) Payload() uint64 {
	return uint64(r) & repPayloadMask
}

func (r ValueRep) String() string {
	return fmt.Sprintf("ValueRep{type: %s, array: %t, inlined: %t, compressed: %t, payload: %#x}",
		r.Type(), r.IsArray(), r.IsInlined(), r.IsCompressed(), r.Payload())
}
