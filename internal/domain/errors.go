package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidOdds  = errors.New("odds outside (0,1]")
	ErrLockHeld     = errors.New("lock already held")
	ErrNoOutcome    = errors.New("market resolved without outcome")
)

// RateLimitError carries the server-advised backoff from a 429 response. It
// unwraps to ErrRateLimited so callers can match with errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
