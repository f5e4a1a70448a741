// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package resolver

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Scope caches opened packages so that a group of related lookups parses
// each package at most once.  It is safe for concurrent use, but must not
// be closed while lookups through it are still running.
type Scope struct {
	packages sync.Map // string -> *scopeEntry
	closed   atomic.Bool
}

type scopeEntry struct {
	once sync.Once
	pkg  *container
	err  error
}

func NewScope() *Scope {
	return &Scope{}
}

// load returns the package cached under id, calling open to produce it if
// this is the first request.  Concurrent first requests wait for a single
// call to open and share its result, including a failure.
func (s *Scope) load(id string, open func() (*container, error)) (*container, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	v, _ := s.packages.LoadOrStore(id, &scopeEntry{})
	e := v.(*scopeEntry)
	e.once.Do(func() {
		e.pkg, e.err = open()
	})
	return e.pkg, e.err
}

// Close releases every package opened through the scope.  Assets returned
// by lookups in this scope must not be used afterwards.
func (s *Scope) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var errs []error
	s.packages.Range(func(k, v any) bool {
		s.packages.Delete(k)
		if e := v.(*scopeEntry); e.pkg != nil {
			errs = append(errs, e.pkg.Close())
		}
		return true
	})
	return errors.Join(errs...)
}
