package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docflow/state"
)

// RevisionRepository implements state.RevisionStore for BadgerDB.
type RevisionRepository struct {
	backend *Backend
}

var _ state.RevisionStore = (*RevisionRepository)(nil)

// NewRevisionRepository creates a new RevisionRepository.
func NewRevisionRepository(backend *Backend) *RevisionRepository {
	return &RevisionRepository{
		backend: backend,
	}
}

// LastRevision returns the last processed revision of fileID.
func (r *RevisionRepository) LastRevision(ctx context.Context, fileID string) (time.Time, bool, error) {
	if fileID == "" {
		return time.Time{}, false, state.ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	var (
		revision time.Time
		found    bool
	)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		revision, found, err = getRevision(tx, fileID)
		return err
	}, false)

	return revision, found, classify(err)
}

// MarkRevision records revision for fileID unless a newer one is stored.
func (r *RevisionRepository) MarkRevision(ctx context.Context, fileID string, revision time.Time) error {
	if fileID == "" {
		return state.ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.backend.Update(func(tx *badger.Txn) error {
		last, found, err := getRevision(tx, fileID)
		if err != nil {
			return err
		}
		if found && state.Processed(revision, last) {
			return nil
		}
		return tx.Set(makeRevisionKey(fileID), state.MarshalRevision(revision))
	})
}

func getRevision(tx *badger.Txn, fileID string) (time.Time, bool, error) {
	item, err := tx.Get(makeRevisionKey(fileID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	var revision time.Time
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		revision, unmarshalErr = state.UnmarshalRevision(val)
		return unmarshalErr
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return revision, true, nil
}
