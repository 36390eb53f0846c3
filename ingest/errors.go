package ingest

import "errors"

var (
	// ErrListerRequired indicates a missing listing client.
	ErrListerRequired = errors.New("lister is required")

	// ErrPublisherRequired indicates a missing publisher.
	ErrPublisherRequired = errors.New("publisher is required")

	// ErrCodecRequired indicates a missing codec.
	ErrCodecRequired = errors.New("codec is required")

	// ErrInvalidConfig indicates an out-of-range configuration value.
	ErrInvalidConfig = errors.New("invalid ingest config")
)
