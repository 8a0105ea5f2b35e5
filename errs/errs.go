// ABOUTME: Error taxonomy for sync operations
// ABOUTME: Classifies failures as auth, transient, rate-limit, data, or persistence errors
package errs

import (
	"errors"
	"fmt"
	"time"
)

// AuthError means the credentials were rejected. Never retried; fatal to the
// run since every subsequent call would fail the same way.
type AuthError struct {
	Op         string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Op, e.StatusCode)
}

// TransientError covers 5xx responses, timeouts, and connection failures.
// Eligible for retry up to the configured budget.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: transient failure (status %d)", e.Op, e.StatusCode)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError means the remote throttled us and the client-level cool-down
// retry was already spent.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s)", e.Op, e.RetryAfter)
}

// DataError means a single upstream record had an unexpected shape. The
// record is skipped and logged; the run continues.
type DataError struct {
	Op  string
	Err error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: malformed record: %v", e.Op, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// PersistenceError means the local store is unusable. Fatal to the run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

func IsData(err error) bool {
	var target *DataError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
