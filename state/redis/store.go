// Package redis implements state.Store on a shared Redis server, for
// deployments running several job instances against one state backend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/state"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "docflow"

// markScript stores ARGV[1] unless a greater or equal revision is already set.
var markScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // Key namespace, "docflow" if empty
}

// Store keeps revisions as integer keys and cursors as hashes.
type Store struct {
	client *redis.Client
	prefix string
}

var _ state.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, classify(err))
	}

	return NewWithClient(client, opts.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) revisionKey(fileID string) string {
	return s.prefix + ":rev:" + fileID
}

func (s *Store) cursorKey(name string) string {
	return s.prefix + ":cursor:" + name
}

// LastRevision returns the last processed revision of fileID.
func (s *Store) LastRevision(ctx context.Context, fileID string) (time.Time, bool, error) {
	if fileID == "" {
		return time.Time{}, false, state.ErrEmptyKey
	}

	micros, err := s.client.Get(ctx, s.revisionKey(fileID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("redis: get revision %s: %w", fileID, classify(err))
	}
	return time.UnixMicro(micros).UTC(), true, nil
}

// MarkRevision records revision for fileID unless a newer one is stored.
// The compare-and-set runs as one server-side script.
func (s *Store) MarkRevision(ctx context.Context, fileID string, revision time.Time) error {
	if fileID == "" {
		return state.ErrEmptyKey
	}

	err := markScript.Run(ctx, s.client, []string{s.revisionKey(fileID)}, revision.UnixMicro()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: mark revision %s: %w", fileID, classify(err))
	}
	return nil
}

// SaveCursor persists the page cursor for name.
func (s *Store) SaveCursor(ctx context.Context, name string, cursor *core.PageCursor) error {
	if name == "" {
		return state.ErrEmptyKey
	}

	err := s.client.HSet(ctx, s.cursorKey(name),
		"token", cursor.PageToken,
		"processed", cursor.FilesProcessed,
		"updated", cursor.UpdatedAt.UnixMicro(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: save cursor %s: %w", name, classify(err))
	}
	return nil
}

// LoadCursor retrieves the page cursor for name.
// Returns nil, nil if no cursor exists.
func (s *Store) LoadCursor(ctx context.Context, name string) (*core.PageCursor, error) {
	if name == "" {
		return nil, state.ErrEmptyKey
	}

	fields, err := s.client.HGetAll(ctx, s.cursorKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load cursor %s: %w", name, classify(err))
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeCursor(fields)
}

func decodeCursor(fields map[string]string) (*core.PageCursor, error) {
	processed, err := strconv.ParseInt(fields["processed"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: cursor count: %w", state.ErrSerializationFailed, err)
	}
	updated, err := strconv.ParseInt(fields["updated"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: cursor time: %w", state.ErrSerializationFailed, err)
	}
	return &core.PageCursor{
		PageToken:      fields["token"],
		FilesProcessed: processed,
		UpdatedAt:      time.UnixMicro(updated).UTC(),
	}, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, redis.ErrClosed):
		return core.Fatal(err)
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return core.Transient(err)
	}
	return err
}
