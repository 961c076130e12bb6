package data_portal

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned for 401 responses; callers should discard any
	// stored token and require a fresh login.
	ErrUnauthorized = errors.New("authentication failed")
	// ErrForbidden is returned for 403 responses; callers should fall back to a
	// safe default view rather than retrying.
	ErrForbidden = errors.New("permission denied")
)

// RateLimitError is returned for 429 responses. RetryAfter is zero when the
// backend didn't say how long to wait. Never auto-retried.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// APIError is any other non-2xx response, carrying the backend's error message
// unchanged.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (status %d)", e.Status)
}
