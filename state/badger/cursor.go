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


package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/state"
)

// CursorRepository implements state.CursorStore for BadgerDB.
type CursorRepository struct {
	backend *Backend
}

var _ state.CursorStore = (*CursorRepository)(nil)

// NewCursorRepository creates a new CursorRepository.
func NewCursorRepository(backend *Backend) *CursorRepository {
	return &CursorRepository{
		backend: backend,
	}
}

// SaveCursor persists the page cursor for a named ingest run.
func (r *CursorRepository) SaveCursor(ctx context.Context, name string, cursor *core.PageCursor) error {
	if name == "" {
		return state.ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeCursorKey(name), state.MarshalCursor(cursor))
	})
}

// LoadCursor retrieves the page cursor for a named ingest run.
// Returns nil, nil if no cursor exists.
func (r *CursorRepository) LoadCursor(ctx context.Context, name string) (*core.PageCursor, error) {
	if name == "" {
		return nil, state.ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cursor *core.PageCursor
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCursorKey(name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		return item.Value(func(val []byte) error {
			var unmarshalErr error
			cursor, unmarshalErr = state.UnmarshalCursor(val)
			return unmarshalErr
		})
	}, false)

	return cursor, classify(err)
}
