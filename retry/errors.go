package retry

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when a Policy allows no attempts.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrAttemptsExhausted wraps the last error once every attempt has failed.
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)
