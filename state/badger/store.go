package badger

import "github.com/poiesic/docflow/state"

// Store bundles the revision and cursor repositories over one backend.
type Store struct {
	*RevisionRepository
	*CursorRepository
	backend *Backend
}

var _ state.Store = (*Store)(nil)

// Open opens a persistent Store at path.
func Open(path string) (*Store, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return NewStore(backend), nil
}

// NewStore creates a Store over an open backend. Closing the Store closes the backend.
func NewStore(backend *Backend) *Store {
	return &Store{
		RevisionRepository: NewRevisionRepository(backend),
		CursorRepository:   NewCursorRepository(backend),
		backend:            backend,
	}
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
