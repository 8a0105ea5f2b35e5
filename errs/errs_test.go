package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{401, IsAuth, "auth"},
		{403, IsAuth, "auth"},
		{429, IsRateLimit, "rate limit"},
		{500, IsTransient, "transient"},
		{502, IsTransient, "transient"},
		{503, IsTransient, "transient"},
		{404, IsData, "data"},
		{422, IsData, "data"},
	}

	for _, tt := range tests {
		err := FromStatus("test op", tt.status)
		if !tt.check(err) {
			t.Errorf("FromStatus(%d) = %v, expected %s error", tt.status, err, tt.name)
		}
	}
}

func TestClassifiersAreExclusive(t *testing.T) {
	err := FromStatus("op", 401)
	if IsTransient(err) || IsRateLimit(err) || IsData(err) || IsPersistence(err) {
		t.Errorf("auth error matched another classifier: %v", err)
	}
}

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	inner := &TransientError{Op: "fetch", StatusCode: 503}
	wrapped := fmt.Errorf("run failed: %w", inner)

	if !IsTransient(wrapped) {
		t.Errorf("expected wrapped transient error to classify as transient")
	}
	if IsAuth(wrapped) {
		t.Errorf("wrapped transient error classified as auth")
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransientError{Op: "fetch", Err: cause}

	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the cause through Unwrap")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&AuthError{Op: "fetch", StatusCode: 401}, "fetch: authentication failed (status 401)"},
		{&TransientError{Op: "fetch", StatusCode: 503}, "fetch: transient failure (status 503)"},
		{&DataError{Op: "decode", Err: errors.New("bad shape")}, "decode: malformed record: bad shape"},
		{&PersistenceError{Op: "insert", Err: errors.New("disk full")}, "insert: persistence failure: disk full"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
