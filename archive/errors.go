// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package archive

import "errors"

var (
	ErrFormat   = errors.New("malformed package")
	ErrChecksum = errors.New("package entry checksum mismatch")
	ErrNotFound = errors.New("package entry not found")
	ErrClosed   = errors.New("package already closed")
)
