/*
errors.go - Shared error types for the engine

PURPOSE:
  Errors that are not tied to a leave rule: storage races, duplicate keys,
  malformed periods. The leave package defines the business taxonomy
  (validation, balance, sequence, terminal state) on top of these.

ERROR CATEGORIES:
  1. Contention - Two writers raced for the same row (retryable)
  2. Store errors - Duplicate keys, malformed periods

USAGE:
  Stores return ErrConcurrentModification when a compare-and-swap misses or a
  row lock cannot be acquired. RetryPolicy.Do retries exactly that error and
  wraps the last one in a ContentionError once attempts run out:

    if errors.Is(err, generic.ErrContention) {
        // surface as 503, caller may retry later
    }

SEE ALSO:
  - retry.go: Bounded retry with backoff
  - leave/errors.go: Business error taxonomy
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConcurrentModification is returned when optimistic locking detects a
	// conflict or a row lock times out.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrContention is returned once bounded retries on a contended row are exhausted.
	ErrContention = errors.New("ledger contention")

	// ErrDuplicate is returned when a unique key (idempotency key, primary key) already exists.
	ErrDuplicate = errors.New("duplicate key")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ContentionError reports how many attempts were made before giving up.
type ContentionError struct {
	Attempts int
	Last     error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("ledger contention after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ContentionError) Unwrap() error { return ErrContention }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
