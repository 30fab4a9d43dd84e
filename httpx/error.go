package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error represents a non-2xx HTTP response with observability-friendly fields.
// It is produced by Response.Err; Execute itself returns such responses as values.
type Error struct {
	Method string
	URL    string

	// StatusCode is the HTTP status code.
	StatusCode int

	// RequestID is the server-assigned id from the Request-Id response header.
	RequestID string

	// RetryAfter is parsed from Retry-After when present.
	RetryAfter time.Duration

	// RawBody is a truncated copy of the response body.
	RawBody []byte

	// Cause is the underlying error, if any.
	Cause error

	// Retryable reports whether the client's retry policy treated the response
	// as retryable (status set and server override both applied).
	Retryable bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if strings.TrimSpace(e.Method) != "" {
		b.WriteString(strings.ToUpper(strings.TrimSpace(e.Method)))
		b.WriteString(" ")
	}
	if strings.TrimSpace(e.URL) != "" {
		b.WriteString(strings.TrimSpace(e.URL))
		b.WriteString(": ")
	}
	if e.StatusCode != 0 {
		b.WriteString(fmt.Sprintf("http %d", e.StatusCode))
		if t := strings.TrimSpace(http.StatusText(e.StatusCode)); t != "" {
			b.WriteString(" ")
			b.WriteString(t)
		}
	} else {
		b.WriteString("request failed")
	}
	if e.RequestID != "" {
		b.WriteString(" request_id=")
		b.WriteString(e.RequestID)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// TransportError is a failed physical exchange: DNS, connect, TLS, timeout,
// or a body that could not be read.
type TransportError struct {
	Method  string
	URL     string
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s: attempt %d: %v", strings.ToUpper(e.Method), e.URL, e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIConnectionError is returned by Execute when no response could be obtained:
// retries were exhausted or the last transport failure was not retryable.
type APIConnectionError struct {
	Attempts int
	Err      error
}

func (e *APIConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("httpx: could not connect to the API after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *APIConnectionError) Unwrap() error { return e.Err }

// AsError extracts *Error.
func AsError(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	he, ok := AsError(err)
	return ok && he.Retryable
}

func IsHTTPStatus(err error, code int) bool {
	he, ok := AsError(err)
	return ok && he.StatusCode == code
}

// IsConnectionError reports whether err is (or wraps) an *APIConnectionError.
func IsConnectionError(err error) bool {
	var ce *APIConnectionError
	return errors.As(err, &ce)
}
