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


package state

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/docflow/core"
)

// Timestamps are stored as Unix microseconds.

// MarshalRevision serializes a revision timestamp to bytes.
func MarshalRevision(revision time.Time) []byte {
	micros := revision.UnixMicro()
	buf := make([]byte, varint.Int64.Size(micros))
	varint.Int64.Marshal(micros, buf)
	return buf
}

// UnmarshalRevision deserializes a revision timestamp from bytes.
func UnmarshalRevision(data []byte) (time.Time, error) {
	micros, _, err := varint.Int64.Unmarshal(data)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: revision: %w", ErrSerializationFailed, err)
	}
	return time.UnixMicro(micros).UTC(), nil
}

// MarshalCursor serializes a PageCursor to bytes.
func MarshalCursor(cursor *core.PageCursor) []byte {
	updated := cursor.UpdatedAt.UnixMicro()
	size := ord.String.Size(cursor.PageToken) +
		varint.Int64.Size(cursor.FilesProcessed) +
		varint.Int64.Size(updated)

	buf := make([]byte, size)
	n := ord.String.Marshal(cursor.PageToken, buf)
	n += varint.Int64.Marshal(cursor.FilesProcessed, buf[n:])
	varint.Int64.Marshal(updated, buf[n:])
	return buf
}

// UnmarshalCursor deserializes a PageCursor from bytes.
func UnmarshalCursor(data []byte) (*core.PageCursor, error) {
	token, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: cursor token: %w", ErrSerializationFailed, err)
	}

	processed, m, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: cursor count: %w", ErrSerializationFailed, err)
	}
	n += m

	updated, _, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: cursor time: %w", ErrSerializationFailed, err)
	}

	return &core.PageCursor{
		PageToken:      token,
		FilesProcessed: processed,
		UpdatedAt:      time.UnixMicro(updated).UTC(),
	}, nil
}
