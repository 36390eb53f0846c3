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


package core

import (
	"errors"
	"time"
)

// Error classes. Every error leaving a component boundary is wrapped in
// exactly one of these so callers can decide between retrying, skipping
// the record and stopping the job.
var (
	// ErrTransientIO marks network, broker or storage blips. Retried with backoff.
	ErrTransientIO = errors.New("transient i/o failure")

	// ErrAuthExpired marks an expired credential. One re-authentication is attempted.
	ErrAuthExpired = errors.New("credentials expired")

	// ErrRateLimited marks a throttled call. Retried honoring any retry-after hint.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation marks a malformed record. Skipped and recorded, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrFatal marks an unrecoverable condition that stops the job.
	ErrFatal = errors.New("fatal")
)

// Domain validation errors
var (
	// ErrMissingID indicates a FileRecord without an id.
	ErrMissingID = errors.New("file id cannot be empty")

	// ErrMissingRevision indicates a FileRecord without a modified time.
	ErrMissingRevision = errors.New("modified time cannot be zero")

	// ErrInvalidStatus indicates an unknown ParseStatus value.
	ErrInvalidStatus = errors.New("invalid parse status")

	// ErrInvalidOffsets indicates a chunk whose range is empty or negative.
	ErrInvalidOffsets = errors.New("invalid chunk offsets")
)

// ClassifiedError attaches an error class to an underlying cause.
type ClassifiedError struct {
	Class      error
	Err        error
	RetryAfter time.Duration // Only meaningful for ErrRateLimited
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return e.Class.Error()
	}
	return e.Class.Error() + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

func classify(class, err error) error {
	if err == nil {
		return nil
	}
	// Keep the first classification
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	return &ClassifiedError{Class: class, Err: err}
}

// Transient wraps err as ErrTransientIO.
func Transient(err error) error { return classify(ErrTransientIO, err) }

// AuthExpired wraps err as ErrAuthExpired.
func AuthExpired(err error) error { return classify(ErrAuthExpired, err) }

// Invalid wraps err as ErrValidation.
func Invalid(err error) error { return classify(ErrValidation, err) }

// Fatal wraps err as ErrFatal.
func Fatal(err error) error { return classify(ErrFatal, err) }

// RateLimited wraps err as ErrRateLimited with an optional retry-after hint.
func RateLimited(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	return &ClassifiedError{Class: ErrRateLimited, Err: err, RetryAfter: retryAfter}
}

// IsRetryable reports whether err belongs to a class that is retried with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO) || errors.Is(err, ErrRateLimited)
}

// RetryAfter returns the retry-after hint carried by a rate-limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Class == ErrRateLimited && ce.RetryAfter > 0 {
		return ce.RetryAfter, true
	}
	return 0, false
}
