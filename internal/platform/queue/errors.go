package queue

import (
	"fmt"
	"time"
)

// RetryError asks the queue to run the task again after a delay. It does
// not count as a failed attempt; rate-limited handlers return it with the
// limiter's retry-after hint.
type RetryError struct {
	After time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry after %s", e.After)
}

// Retry builds a RetryError.
func Retry(after time.Duration) error {
	return &RetryError{After: after}
}

// ExpectedError is a business condition, not a malfunction: the task is
// acknowledged and surfaced but never retried.
type ExpectedError struct {
	Reason string
}

func (e *ExpectedError) Error() string {
	return e.Reason
}

// Expected builds an ExpectedError.
func Expected(reason string) error {
	return &ExpectedError{Reason: reason}
}
