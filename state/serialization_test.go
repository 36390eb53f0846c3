package state

import (
	"testing"
	"time"

	"github.com/poiesic/docflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalCursor(t *testing.T) {
	cursor := &core.PageCursor{
		PageToken:      "~!!~AI9FV7Q",
		FilesProcessed: 250,
		UpdatedAt:      time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC),
	}

	decoded, err := UnmarshalCursor(MarshalCursor(cursor))
	require.NoError(t, err)
	assert.Equal(t, cursor, decoded)
}

func TestMarshalUnmarshalCursor_EmptyToken(t *testing.T) {
	cursor := &core.PageCursor{UpdatedAt: time.UnixMicro(0).UTC()}

	decoded, err := UnmarshalCursor(MarshalCursor(cursor))
	require.NoError(t, err)
	assert.Equal(t, "", decoded.PageToken)
	assert.Equal(t, int64(0), decoded.FilesProcessed)
}

func TestUnmarshalCursor_Invalid(t *testing.T) {
	_, err := UnmarshalCursor([]byte{})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestMarshalUnmarshalRevision(t *testing.T) {
	rev := time.Date(2025, 3, 1, 12, 0, 0, 500000, time.UTC)

	decoded, err := UnmarshalRevision(MarshalRevision(rev))
	require.NoError(t, err)
	assert.True(t, rev.Equal(decoded))

	_, err = UnmarshalRevision(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestProcessed(t *testing.T) {
	last := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, Processed(last, last), "same revision is processed")
	assert.True(t, Processed(last.Add(-time.Second), last), "older revision is processed")
	assert.False(t, Processed(last.Add(time.Millisecond), last), "newer revision is not")
	assert.True(t, Processed(last.Add(500*time.Nanosecond), last), "sub-microsecond difference is ignored")
}
