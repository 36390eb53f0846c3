package state

import "errors"

var (
	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrEmptyKey indicates an empty file id or cursor name.
	ErrEmptyKey = errors.New("key cannot be empty")
)
