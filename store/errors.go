// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat marks files that are not stores, or whose header or table
	// of contents is malformed or truncated.
	ErrFormat = errors.New("malformed store")
	// ErrVersion is matched by every *VersionError.
	ErrVersion = errors.New("incompatible store version")
	// ErrIntegrity marks structural tables or values that fail validation.
	ErrIntegrity = errors.New("store integrity check failed")
	// ErrResource marks failures to open or map the underlying bytes.
	ErrResource = errors.New("store resource unavailable")
	// ErrWrite marks a failed write session; nothing is left at the destination.
	ErrWrite = errors.New("store write failed")

	ErrClosed   = errors.New("store already closed")
	ErrNotFound = errors.New("not found")
)

// VersionError reports a file version this software cannot read or update.
type VersionError struct {
	Op       string
	File     Version
	Software Version
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("cannot %s store version %s with software version %s", e.Op, e.File, e.Software)
}

func (e *VersionError) Is(target error) bool {
	return target == ErrVersion
}

func integrityErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
