// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package scenestore opens scene databases by identifier.  Identifiers may
// name plain files or entries nested inside packages, like
// "shot.pkg[set.pkg[city.store]]".
//
// Typical usage:
//
//	db, err := scenestore.Open("shot.pkg[city.store]")
//	if err != nil { ... }
//	defer db.Close()
//	points, err := db.Get(store.MustParsePath("/City/Ground"), "points")
package scenestore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bpowers/scenestore/asset"
	"github.com/bpowers/scenestore/resolver"
	"github.com/bpowers/scenestore/store"
)

var ErrUnknownFormat = errors.New("no known format can open asset")

// Database is read access to a hierarchy of specs and their fields.
type Database interface {
	Name() string
	SpecPaths() []store.Path
	SpecKind(p store.Path) (store.SpecKind, bool)
	ListFields(p store.Path) ([]store.Token, bool)
	Get(p store.Path, name store.Token) (any, error)
	Fields(p store.Path) ([]store.Field, error)
	Close() error
}

// Opener recognizes and opens one database format.
type Opener interface {
	// CanOpen reports whether a looks like this format.  It must not
	// consume a.
	CanOpen(a asset.Asset) bool
	// Open takes ownership of a, closing it if opening fails.
	Open(name string, a asset.Asset, logger *slog.Logger) (Database, error)
}

// StoreOpener opens the store format.  It is the format a new Registry
// starts with, and can be handed to any other dispatcher.
type StoreOpener struct{}

func (StoreOpener) CanOpen(a asset.Asset) bool {
	return store.CanOpen(a)
}

func (StoreOpener) Open(name string, a asset.Asset, logger *slog.Logger) (Database, error) {
	s, err := store.OpenAsset(name, a, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Registry is an ordered set of formats consulted by Open.  It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	openers []Opener
}

// NewRegistry returns a registry that knows the store format.
func NewRegistry() *Registry {
	return &Registry{openers: []Opener{StoreOpener{}}}
}

// Register adds a format.  Formats registered later are tried first.
func (r *Registry) Register(o Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers = append([]Opener{o}, r.openers...)
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger *slog.Logger
	source asset.Source
	scope  *resolver.Scope
}

// WithLogger sets an optional logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSource reads top-level assets from src rather than the filesystem.
func WithSource(src asset.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithScope caches packages opened on the way to the database in scope,
// which then must outlive the database.
func WithScope(scope *resolver.Scope) Option {
	return func(o *options) {
		o.scope = scope
	}
}

// Open resolves id and opens it as a store.
func Open(id string, opts ...Option) (Database, error) {
	return NewRegistry().Open(id, opts...)
}

// Open resolves id and opens it with the first format in r that
// recognizes it.
func (r *Registry) Open(id string, opts ...Option) (Database, error) {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		source: asset.FileSource{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	a, err := resolver.New(o.source, resolver.WithLogger(o.logger)).Open(id, o.scope)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	candidates := r.openers
	r.mu.RUnlock()
	for _, opener := range candidates {
		if opener.CanOpen(a) {
			o.logger.Debug("opening database", "id", id, "size", a.Size())
			return opener.Open(id, a, o.logger)
		}
	}
	_ = a.Close()
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, id)
}
