// ABOUTME: HTTP status code to error taxonomy mapping
// ABOUTME: Shared by both API clients so classification stays uniform
package errs

import "fmt"

// FromStatus maps a non-success HTTP status to the taxonomy. 401/403 are
// auth failures, 429 is a rate limit, 5xx is transient, and any other 4xx
// means the request itself was malformed for this record.
func FromStatus(op string, status int) error {
	switch {
	case status == 401 || status == 403:
		return &AuthError{Op: op, StatusCode: status}
	case status == 429:
		return &RateLimitError{Op: op}
	case status >= 500:
		return &TransientError{Op: op, StatusCode: status}
	default:
		return &DataError{Op: op, Err: fmt.Errorf("unexpected status %d", status)}
	}
}
