// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package local implements storage.Store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
)

// Store keeps blobs as files below a root directory.
type Store struct {
	root   string
	closed atomic.Bool
}

var _ storage.Store = (*Store)(nil)

// New creates a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", storage.ErrInvalidPath)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &Store{root: root}, nil
}

// Root returns the root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) fullPath(p string) (string, error) {
	if s.closed.Load() {
		return "", storage.ErrStorageClosed
	}
	if err := storage.ValidatePath(p); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(p)), nil
}

// Put writes data atomically: temp file, fsync, rename.
// A reader never observes a partially written blob.
func (s *Store) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return core.Transient(fmt.Errorf("create directory for %s: %w", p, err))
	}

	tmp := full + "." + uuid.NewString() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return core.Transient(fmt.Errorf("create temp file for %s: %w", p, err))
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return core.Transient(fmt.Errorf("write %s: %w", p, err))
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return core.Transient(fmt.Errorf("fsync %s: %w", p, err))
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return core.Transient(fmt.Errorf("close %s: %w", p, err))
	}

	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return core.Transient(fmt.Errorf("rename %s: %w", p, err))
	}
	return nil
}

// Get reads the blob at p.
func (s *Store) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.fullPath(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, p)
		}
		return nil, core.Transient(fmt.Errorf("read %s: %w", p, err))
	}
	return data, nil
}

// Exists reports whether a blob exists at p.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := s.fullPath(p)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, core.Transient(fmt.Errorf("stat %s: %w", p, err))
	}
	return !info.IsDir(), nil
}

// Delete removes the blob at p. Returns nil if it does not exist.
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(p)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return core.Transient(fmt.Errorf("delete %s: %w", p, err))
	}
	return nil
}

// Close marks the store closed. Files on disk are left in place.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
