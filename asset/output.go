// Copyright 2021 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package asset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// WriteMode selects how OpenForWrite treats an existing file.
type WriteMode int

const (
	// Replace starts from an empty file.
	Replace WriteMode = iota
	// Update starts from a copy of the existing file's contents.
	Update
)

// Output is a file being written.  Bytes go to a temporary file in the
// destination's directory, and Close atomically renames it over the
// destination, so readers of the old file never observe a partial write.
type Output struct {
	f          *os.File
	resultPath string
	finished   atomic.Bool
}

// OpenForWrite starts writing the file at path.
func OpenForWrite(path string, mode WriteMode) (*Output, error) {
	// we want to write to a new file and do an atomic rename when we're done on disk
	resultPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}
	dir := filepath.Dir(resultPath)
	f, err := os.CreateTemp(dir, "."+filepath.Base(resultPath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("CreateTemp failed (may need permissions for dir %q): %w", dir, err)
	}
	out := &Output{f: f, resultPath: resultPath}

	if mode == Update {
		if err := out.copyFrom(resultPath); err != nil {
			_ = out.Discard()
			return nil, err
		}
	}
	return out, nil
}

func (o *Output) copyFrom(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer func() { _ = src.Close() }()
	if _, err := io.Copy(o.f, src); err != nil {
		return fmt.Errorf("io.Copy: %w", err)
	}
	return nil
}

// Name returns the final path of the output.
func (o *Output) Name() string {
	return o.resultPath
}

func (o *Output) Write(p []byte) (int, error) {
	return o.f.Write(p)
}

func (o *Output) WriteAt(p []byte, off int64) (int, error) {
	return o.f.WriteAt(p, off)
}

func (o *Output) Seek(off int64, whence int) (int64, error) {
	return o.f.Seek(off, whence)
}

// Truncate resizes the pending file and moves the write position to its end.
func (o *Output) Truncate(size int64) error {
	if err := o.f.Truncate(size); err != nil {
		return fmt.Errorf("f.Truncate: %w", err)
	}
	if _, err := o.f.Seek(size, io.SeekStart); err != nil {
		return fmt.Errorf("f.Seek: %w", err)
	}
	return nil
}

// Close syncs the pending file and renames it over the destination.
func (o *Output) Close() error {
	if o.finished.Swap(true) {
		return nil
	}
	tmpName := o.f.Name()
	if err := o.f.Sync(); err != nil {
		_ = o.f.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("f.Sync: %w", err)
	}
	if err := o.f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("f.Close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("os.Chmod: %w", err)
	}
	if err := os.Rename(tmpName, o.resultPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}

// Discard abandons the write, leaving the destination untouched.
func (o *Output) Discard() error {
	if o.finished.Swap(true) {
		return nil
	}
	tmpName := o.f.Name()
	err := o.f.Close()
	if rerr := os.Remove(tmpName); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = rerr
	}
	return err
}
