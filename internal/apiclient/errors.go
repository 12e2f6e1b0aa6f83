package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnexpectedStatusCode indicates an HTTP response with unexpected status.
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrInvalidRequest means the request could not be built; retrying cannot help.
	ErrInvalidRequest = errors.New("invalid request")
)

// StatusError is a non-2xx response.
type StatusError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %d for %s", ErrUnexpectedStatusCode, e.StatusCode, e.URL)
	}

	return fmt.Sprintf("%s: %d for %s: %s", ErrUnexpectedStatusCode, e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatusCode
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return isRetryableStatus(e.StatusCode)
}

// IsAuthFailure reports whether the server rejected the credential.
func (e *StatusError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// TransientFetchError is returned once a retryable failure has exhausted every attempt.
type TransientFetchError struct {
	Err      error
	URL      string
	Attempts int
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// DecodeError means the server answered 2xx with a body that is not the expected JSON.
type DecodeError struct {
	Err error
	URL string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// isRetryableStatus determines if we should retry based on HTTP status code.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}

	return statusCode >= http.StatusInternalServerError
}
