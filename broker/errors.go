package broker

import "errors"

var (
	// ErrSchemaMismatch indicates a delivery tagged with another schema than expected.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrUnknownSchema indicates a schema name or version with no registered definition.
	ErrUnknownSchema = errors.New("unknown schema")

	// ErrClosed indicates use of a closed publisher or subscriber.
	ErrClosed = errors.New("broker client closed")
)
