package chunk

import "errors"

var (
	// ErrInvalidWindow indicates window parameters outside 0 <= overlap < windowSize.
	ErrInvalidWindow = errors.New("invalid chunk window")

	// ErrSubscriberRequired indicates a missing subscriber.
	ErrSubscriberRequired = errors.New("subscriber is required")

	// ErrPublisherRequired indicates a missing publisher.
	ErrPublisherRequired = errors.New("publisher is required")

	// ErrStoreRequired indicates a missing text store.
	ErrStoreRequired = errors.New("store is required")
)
