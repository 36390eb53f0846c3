package config

import "errors"

var (
	// ErrInvalidConfig is returned by Validate for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownBackend indicates a backend type that is not supported.
	ErrUnknownBackend = errors.New("unknown backend")
)
