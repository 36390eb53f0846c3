package drive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/poiesic/docflow/core"
	"google.golang.org/api/googleapi"
)

var (
	// ErrCredentialsRevoked indicates a session that can no longer be refreshed.
	ErrCredentialsRevoked = errors.New("credentials revoked or unrefreshable")

	// ErrFileNotFound indicates a file that no longer exists remotely.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileTooLarge indicates a download exceeding the configured limit.
	ErrFileTooLarge = errors.New("file exceeds download limit")
)

// classify maps Drive API failures onto the core error classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return core.AuthExpired(err)
		case gerr.Code == http.StatusTooManyRequests, gerr.Code == http.StatusForbidden && isRateLimitReason(gerr):
			return core.RateLimited(err, retryAfter(gerr.Header))
		case gerr.Code == http.StatusNotFound:
			return core.Invalid(fmt.Errorf("%w: %w", ErrFileNotFound, err))
		case gerr.Code >= 500, gerr.Code == http.StatusRequestTimeout:
			return core.Transient(err)
		}
		return core.Fatal(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return core.Transient(err)
	}
	return err
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
