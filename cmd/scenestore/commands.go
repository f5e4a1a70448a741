// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bpowers/scenestore"
	"github.com/bpowers/scenestore/archive"
	"github.com/bpowers/scenestore/asset"
	"github.com/bpowers/scenestore/resolver"
	"github.com/bpowers/scenestore/store"
)

func newResolver(e *env) *resolver.Resolver {
	return resolver.New(asset.FileSource{}, resolver.WithLogger(e.logger))
}

// withPackage opens the package named by id and calls fn with it.
func withPackage(e *env, r *resolver.Resolver, id string, fn func(pkg *archive.Reader) error) error {
	a, err := r.Open(id, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	pkg, err := archive.Open(a, archive.WithLogger(e.logger))
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	defer func() { _ = pkg.Close() }()
	return fn(pkg)
}

func runLs(e *env, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	r := newResolver(e)
	for _, id := range args {
		err := withPackage(e, r, id, func(pkg *archive.Reader) error {
			if len(args) > 1 {
				fmt.Fprintf(e.stdout, "%s:\n", id)
			}
			return pkg.DumpContents(e.stdout)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func runPack(e *env, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	b, err := scenestore.NewBuilder(args[0], scenestore.WithBuilderLogger(e.logger))
	if err != nil {
		return err
	}
	for _, arg := range args[1:] {
		name, path, ok := split2(arg, '=')
		if !ok {
			name, path = "", arg
		}
		if err := b.PutFile(path, name); err != nil {
			_ = b.Discard()
			return err
		}
		e.logger.Info("added", "path", path, "name", name)
	}
	return b.Finalize()
}

func runCat(e *env, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	a, err := newResolver(e).Open(args[0], nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	_, err = io.Copy(e.stdout, io.NewSectionReader(a, 0, a.Size()))
	return err
}

func runVerify(e *env, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	r := newResolver(e)
	failed := 0
	for _, id := range args {
		err := withPackage(e, r, id, func(pkg *archive.Reader) error {
			it := pkg.Entries()
			for {
				entry, ok := it.Next()
				if !ok {
					return nil
				}
				entryID := resolver.Join(id, entry.Name)
				if err := verifyEntry(pkg, entry, entryID, e.logger); err != nil {
					failed++
					e.logger.Error("verification failed", "entry", entryID, "err", err)
					fmt.Fprintf(e.stdout, "FAIL  %s\n", entryID)
					continue
				}
				fmt.Fprintf(e.stdout, "ok    %s\n", entryID)
			}
		})
		if err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d entries failed verification", failed)
	}
	return nil
}

// verifyEntry checks an entry's checksum, and if it holds a store, that
// every field of every spec can be read.
func verifyEntry(pkg *archive.Reader, entry archive.Entry, id string, logger *slog.Logger) error {
	if err := pkg.Verify(entry); err != nil {
		return err
	}
	data, err := pkg.Data(entry)
	if err != nil {
		return err
	}
	if !store.IsStore(data) {
		return nil
	}
	s, err := store.OpenAsset(id, asset.FromBytes(data), store.WithLogger(logger), store.WithZeroCopy(false))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	for _, p := range s.SpecPaths() {
		fields, err := s.Fields(p)
		if err != nil {
			return err
		}
		for _, f := range fields {
			if ts, ok := f.Value.(store.TimeSamples); ok {
				if _, err := ts.All(); err != nil {
					return fmt.Errorf("field %q of %s: %w", f.Name, p, err)
				}
			}
		}
	}
	return nil
}

type dumpSpec struct {
	Path   store.Path     `yaml:"path"`
	Kind   string         `yaml:"kind"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

func runDump(e *env, args []string) error {
	flags := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	prefixFlag := flags.String("prefix", "", "only dump specs at or below this path")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errUsage
	}
	var prefix store.Path
	if *prefixFlag != "" {
		p, err := store.ParsePath(*prefixFlag)
		if err != nil {
			return fmt.Errorf("--prefix: %w", err)
		}
		prefix = p
	}

	db, err := scenestore.Open(flags.Arg(0), scenestore.WithLogger(e.logger))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	paths := slices.Clone(db.SpecPaths())
	slices.SortFunc(paths, store.Path.Compare)
	var out []dumpSpec
	for _, p := range paths {
		if !prefix.IsEmpty() && !p.HasPrefix(prefix) {
			continue
		}
		kind, _ := db.SpecKind(p)
		fields, err := db.Fields(p)
		if err != nil {
			return err
		}
		spec := dumpSpec{Path: p, Kind: kind.String()}
		if len(fields) > 0 {
			spec.Fields = make(map[string]any, len(fields))
			for _, f := range fields {
				spec.Fields[string(f.Name)] = f.Value
			}
		}
		out = append(out, spec)
	}

	enc := yaml.NewEncoder(e.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("yaml.Encode: %w", err)
	}
	return enc.Close()
}
