// Package codexerr holds the concrete error kinds surfaced across the
// session core, so callers can errors.As to the specific kind instead of
// matching on strings.
package codexerr

import "fmt"

// UnexpectedStatusError is a non-retryable HTTP failure; Body is surfaced to
// the user for diagnostics.
type UnexpectedStatusError struct {
	Status int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// RetryLimitError means the retry budget was exhausted without success.
type RetryLimitError struct {
	Status int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("exceeded retry limit, last status: %d", e.Status)
}

// StreamError covers SSE-layer failures: idle timeout, malformed frames,
// response.failed, or premature close.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}

// IOError wraps a filesystem or subprocess failure.
type IOError struct {
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: %v", e.Cause)
}

func (e *IOError) Unwrap() error {
	return e.Cause
}

// AuthError covers missing credentials, failed refresh, or a violated login
// restriction.
type AuthError struct {
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error: %s: %v", e.Message, e.Cause)
	}
	return "auth error: " + e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// ProtocolError covers a malformed submission, e.g. an approval reply for an
// unknown target id.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}
