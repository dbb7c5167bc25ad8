// Package retry provides error classification and bounded retries with
// exponential backoff for nodes calling remote collaborators (the AI
// backend, the hosting API). It deals in business failures only; engine
// faults never pass through here.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category represents how a remote call failure should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: timeouts, temporary network issues, 5xx responses.
	CategoryTransient Category = iota

	// CategoryRateLimited indicates retry helps, but only after backing
	// off. Examples: 429 responses, quota windows.
	CategoryRateLimited

	// CategoryPermanent indicates retry won't help.
	// Examples: authentication failures, invalid requests.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its category and attempt count.
type ClassifiedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that were made.
	Attempts int

	// Op describes what operation was being attempted.
	Op string
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Op, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// RateLimitError marks an error as rate limiting; remote clients wrap
// their 429-style failures in this so Categorize backs off harder.
type RateLimitError struct {
	Err error
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Categorize classifies an error for retry handling. Unknown errors are
// treated as permanent; only failures that look transient are retried.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return CategoryRateLimited
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return CategoryRateLimited
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "temporarily unavailable"), strings.Contains(msg, "503"),
		strings.Contains(msg, "502"):
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}
