// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package store reads and writes scene stores: immutable binary files
// holding a hierarchy of specs, each carrying named, typed fields.
//
// A store file generally looks like:
//
//	┌───────────────────┐
//	│ file header       │  magic, version, table of contents offset
//	├───────────────────┤
//	│ out-of-line       │
//	│ values            │  arrays, dictionaries, time samples, ...
//	│                   │
//	├───────────────────┤
//	│ TOKENS            │
//	│ STRINGS           │
//	│ FIELDS            │  structural sections, in this order
//	│ FIELDSETS         │
//	│ PATHS             │
//	│ SPECS             │
//	├───────────────────┤
//	│ table of contents │
//	└───────────────────┘
//
// The 88-byte header is:
//
//	 0    1    2    3    4    5    6    7
//	+----+----+----+----+----+----+----+----+
//	| magic "SCNSTORE"                      |
//	+----+----+----+----+----+----+----+----+
//	|maj |min |pat | unused                 |
//	+----+----+----+----+----+----+----+----+
//	| table of contents offset (int64)      |
//	+----+----+----+----+----+----+----+----+
//	| 8 reserved int64s                     |
//	+----+----+----+----+----+----+----+----+
//
// Every field value is described by an 8-byte ValueRep.  Small values are
// stored inline in the rep's 48-bit payload; everything else is written
// once, deduplicated, at an offset the payload points to.  Numeric arrays
// read from a mapped file can be returned as views into the mapping
// without copying, and remain valid after the Store is closed until the
// view is released.
package store
