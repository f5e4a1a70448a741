// Copyright 2021 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package scenestore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/bpowers/scenestore/archive"
	"github.com/bpowers/scenestore/store"
)

var errDuplicateEntry = errors.New("duplicate package entries aren't supported")

// BuilderOption configures the Builder.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	logger    *slog.Logger
	storeOpts []store.WriterOption
}

// WithBuilderLogger sets an optional logger for the builder to use for progress updates.
// If not provided, no logging output will be produced.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(opts *builderOptions) {
		opts.logger = logger
	}
}

// WithStoreOptions sets the options stores added with PutStore are written with.
func WithStoreOptions(opts ...store.WriterOption) BuilderOption {
	return func(o *builderOptions) {
		o.storeOpts = opts
	}
}

// Builder is used to bundle stores and other files into a package.
type Builder struct {
	pkg       *archive.Writer
	names     map[string]struct{}
	logger    *slog.Logger
	storeOpts []store.WriterOption
}

// NewBuilder creates a Builder writing the package at pkgPath.  Nothing is
// visible at pkgPath until Finalize.
func NewBuilder(pkgPath string, opts ...BuilderOption) (*Builder, error) {
	var options builderOptions
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}
	pkg, err := archive.Create(pkgPath, archive.WithLogger(options.logger))
	if err != nil {
		return nil, fmt.Errorf("archive.Create: %w", err)
	}
	return &Builder{
		pkg:       pkg,
		names:     make(map[string]struct{}),
		logger:    options.logger,
		storeOpts: append(slices.Clone(options.storeOpts), store.WithWriterLogger(options.logger)),
	}, nil
}

func (b *Builder) added(name string) error {
	if _, ok := b.names[name]; ok {
		return fmt.Errorf("%w: %s", errDuplicateEntry, name)
	}
	b.names[name] = struct{}{}
	return nil
}

// Put adds data to the package under name.
func (b *Builder) Put(name string, data []byte) error {
	stored, err := b.pkg.Add(name, data, time.Now())
	if err != nil {
		return err
	}
	return b.added(stored)
}

// PutFile adds the file at path to the package under name.
func (b *Builder) PutFile(path, name string) error {
	stored, err := b.pkg.AddFile(path, name)
	if err != nil {
		return err
	}
	return b.added(stored)
}

// PutStore writes a store with build and adds it to the package under name.
func (b *Builder) PutStore(name string, build func(w *store.Writer) error) error {
	var f memFile
	w, err := store.NewWriter(&f, b.storeOpts...)
	if err != nil {
		return fmt.Errorf("store.NewWriter: %w", err)
	}
	if err := build(w); err != nil {
		_ = w.Discard()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("w.Close: %w", err)
	}
	b.logger.Debug("built store", "name", name, "size", len(f.buf))
	return b.Put(name, f.buf)
}

// Finalize writes the package's directory and moves it into place.
func (b *Builder) Finalize() error {
	if err := b.pkg.Save(); err != nil {
		return fmt.Errorf("pkg.Save: %w", err)
	}
	b.logger.Info("package written", "entries", len(b.names))
	return nil
}

// Discard abandons the package.
func (b *Builder) Discard() error {
	return b.pkg.Discard()
}

// memFile is an in-memory store.FileWriter.
type memFile struct {
	buf []byte
}

func (m *memFile) Write(p []byte) (int, error) {
	m.buf = append(m.buf, p...)
	return len(p), nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("WriteAt: negative offset %d", off)
	}
	if end := int(off) + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	return copy(m.buf[off:], p), nil
}
