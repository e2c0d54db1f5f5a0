package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultMaxRetries bounds re-attempts of a single page
const DefaultMaxRetries = 10

// RetryExhaustedError is returned once a page has failed every allowed
// attempt. It aborts the scan.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("page failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Retry calls fn until it succeeds, making at most maxRetries+1 calls.
// There is no delay between attempts. Context errors are never retried.
// The second return value is the number of failed attempts, maxRetries+1
// when every attempt failed.
func Retry[T any](ctx context.Context, logger zerolog.Logger, maxRetries int, fn func(attempt int) (T, error)) (T, int, error) {
	var zero T
	if maxRetries < 0 {
		maxRetries = 0
	}

	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt, err
		}

		v, err := fn(attempt)
		if err == nil {
			return v, attempt, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, attempt, err
		}

		last = err
		if attempt < maxRetries {
			logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_retries", maxRetries).
				Msg("Retrying page fetch")
		}
	}

	return zero, maxRetries + 1, &RetryExhaustedError{Attempts: maxRetries + 1, Last: last}
}
