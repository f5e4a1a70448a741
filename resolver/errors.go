// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package resolver

import "errors"

var (
	ErrNotFound = errors.New("asset not found")
	ErrSyntax   = errors.New("malformed package-relative identifier")
	ErrClosed   = errors.New("scope already closed")
)
