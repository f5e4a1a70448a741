// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package resolver opens assets named by package-relative identifiers,
// such as "shots.pkg[sets.pkg[city.store]]", by walking through each
// enclosing package down to the innermost entry.
package resolver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bpowers/scenestore/archive"
	"github.com/bpowers/scenestore/asset"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets an optional logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Resolver opens assets from a Source, looking inside packages for
// package-relative identifiers.  It is safe for concurrent use.
type Resolver struct {
	src    asset.Source
	logger *slog.Logger
}

// New returns a Resolver reading top-level assets from src.
func New(src asset.Source, opts ...Option) *Resolver {
	r := &Resolver{
		src:    src,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// container is an opened package along with the asset it lives in.
type container struct {
	asset   asset.Asset
	archive *archive.Reader
}

func (c *container) Close() error {
	return errors.Join(c.archive.Close(), c.asset.Close())
}

// Open returns the asset named by id.  If scope is non-nil, packages opened
// along the way are cached in it and stay open until the scope is closed.
// Otherwise the returned asset holds its enclosing packages open and
// releases them when it is closed.
func (r *Resolver) Open(id string, scope *Scope) (asset.Asset, error) {
	if err := Validate(id); err != nil {
		return nil, err
	}
	if !IsPackageRelative(id) {
		a, err := r.src.Open(id)
		if err != nil {
			if errors.Is(err, asset.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return nil, fmt.Errorf("open %s: %w", id, err)
		}
		return a, nil
	}

	pkgID, name := SplitInner(id)
	pkg, err := r.openPackage(pkgID, scope)
	if err != nil {
		return nil, err
	}
	release := func() {
		if scope == nil {
			_ = pkg.Close()
		}
	}

	e, ok := pkg.archive.Find(name)
	if !ok {
		release()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.Method != 0 || e.Encrypted {
		release()
		return nil, fmt.Errorf("%s: %w: entries must be stored uncompressed", id, archive.ErrFormat)
	}

	var owner io.Closer
	if scope == nil {
		owner = pkg
	}
	a, err := asset.Section(pkg.asset, e.DataOffset, e.Size, owner)
	if err != nil {
		release()
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return a, nil
}

func (r *Resolver) openPackage(id string, scope *Scope) (*container, error) {
	if scope == nil {
		return r.loadPackage(id, nil)
	}
	return scope.load(id, func() (*container, error) {
		return r.loadPackage(id, scope)
	})
}

func (r *Resolver) loadPackage(id string, scope *Scope) (*container, error) {
	a, err := r.Open(id, scope)
	if err != nil {
		return nil, err
	}
	rd, err := archive.Open(a, archive.WithLogger(r.logger))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("package %s: %w", id, err)
	}
	r.logger.Debug("opened package", "id", id, "size", a.Size())
	return &container{asset: a, archive: rd}, nil
}
