package pipeline

import "errors"

var (
	// ErrSubscriberRequired indicates a missing subscriber.
	ErrSubscriberRequired = errors.New("subscriber is required")

	// ErrPublisherRequired indicates a missing publisher.
	ErrPublisherRequired = errors.New("publisher is required")

	// ErrHandlerRequired indicates a missing handler.
	ErrHandlerRequired = errors.New("handler is required")

	// ErrInvalidOption indicates an out-of-range runner option.
	ErrInvalidOption = errors.New("invalid runner option")
)
