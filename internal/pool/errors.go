package pool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrServerNotConfigured is returned for calls to an unknown server. It is
	// never retried.
	ErrServerNotConfigured = errors.New("server not configured")

	// ErrRemoteCallFailed matches every *RemoteCallFailedError.
	ErrRemoteCallFailed = errors.New("remote call failed")

	// ErrHealthTimeout is returned by WaitForHealth when servers do not
	// become healthy in time.
	ErrHealthTimeout = errors.New("timed out waiting for healthy servers")

	// ErrEndpointNotAllowed rejects endpoints outside a server's allow-list
	// or containing path traversal.
	ErrEndpointNotAllowed = errors.New("endpoint not allowed")
)

// RemoteCallFailedError reports a call that failed on every attempt, or on a
// non-retryable error.
type RemoteCallFailedError struct {
	Server   string
	Attempts int
	Err      error
}

func (e *RemoteCallFailedError) Error() string {
	return fmt.Sprintf("call to %s failed after %d attempt(s): %v", e.Server, e.Attempts, e.Err)
}

func (e *RemoteCallFailedError) Unwrap() error { return e.Err }

func (e *RemoteCallFailedError) Is(target error) bool { return target == ErrRemoteCallFailed }

// StatusError is a non-2xx response from an HTTP capability server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether a failed attempt should be retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEndpointNotAllowed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
