package state

import (
	"context"
	"time"

	"github.com/poiesic/docflow/core"
)

// RevisionStore records the last processed revision of each file.
// The parse stage consults it to handle every (file, revision) once.
// Implementations must be thread-safe and support concurrent access.
type RevisionStore interface {
	// LastRevision returns the last processed revision of fileID.
	// The boolean is false if the file was never processed.
	LastRevision(ctx context.Context, fileID string) (time.Time, bool, error)

	// MarkRevision records revision as processed for fileID.
	// The stored revision never moves backwards: marking an older
	// revision than the stored one is a no-op.
	MarkRevision(ctx context.Context, fileID string, revision time.Time) error
}

// CursorStore persists ingest page cursors under a name.
type CursorStore interface {
	// SaveCursor persists the cursor for name, replacing any previous one.
	SaveCursor(ctx context.Context, name string, cursor *core.PageCursor) error

	// LoadCursor retrieves the cursor for name.
	// Returns nil, nil if no cursor exists.
	LoadCursor(ctx context.Context, name string) (*core.PageCursor, error)
}

// Store combines revision and cursor persistence in one backend.
type Store interface {
	RevisionStore
	CursorStore

	// Close releases resources held by the store.
	Close() error
}

// Processed reports whether revision is already handled given the stored
// revision. Revisions are compared at microsecond precision, the precision
// every backend persists.
func Processed(revision, last time.Time) bool {
	return !revision.Truncate(time.Microsecond).After(last.Truncate(time.Microsecond))
}
