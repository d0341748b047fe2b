package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceUnavailable marks network-level failures reaching the platform.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRateLimited marks explicit throttling responses from the platform.
	ErrRateLimited = errors.New("source rate limited")
	// ErrNotFound marks content that is gone, private, or never existed.
	ErrNotFound = errors.New("content not found")
	// ErrFetchFailed marks downloads that failed for content-specific reasons.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrTimeout marks calls that exceeded their configured deadline.
	ErrTimeout = errors.New("source timeout")
)

// Wrap tags err with the given marker while preserving operation context.
// The marker should be one of the sentinel errors above.
func Wrap(marker error, operation, message string, err error) error {
	detail := operation
	if message = strings.TrimSpace(message); message != "" {
		if detail != "" {
			detail += ": " + message
		} else {
			detail = message
		}
	}
	if marker == nil {
		marker = ErrFetchFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether a failure should feed the backoff governor
// and leave the job retryable, as opposed to a permanent content failure.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrTimeout):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
