package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/biorelay/sci-api-client/pkg/breaker"
)

// Sentinel errors returned by the client.
var (
	// ErrRetryExhausted wraps the final failure once all attempts are spent.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorClass classifies a request failure.
type ErrorClass string

const (
	// ErrorClassConnection represents network-unreachable failures.
	ErrorClassConnection ErrorClass = "connection"

	// ErrorClassTimeout represents connect or read timeouts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassHTTP represents non-2xx responses.
	ErrorClassHTTP ErrorClass = "http"

	// ErrorClassDecode represents payload decoding failures.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCircuitOpen represents fail-fast rejections by an open breaker.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"

	// ErrorClassCancelled represents caller-initiated aborts.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// ClientError is implemented by every typed error this package surfaces,
// so adapters can catch the whole taxonomy broadly before narrowing by type.
type ClientError interface {
	error
	clientError()
}

// Error is a classified request failure. StatusCode is set for the http
// class, RetryAfter carries the raw Retry-After header when the upstream
// sent one.
type Error struct {
	Class      ErrorClass
	StatusCode int
	URL        string
	Message    string
	RetryAfter string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Class == ErrorClassHTTP {
		if e.Message != "" {
			return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Message)
		}
		return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error for %s: %v", e.Class, e.URL, e.Err)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Class, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) clientError() {}

// CircuitOpenError reports a request rejected without a network attempt
// because the destination's circuit breaker is open.
type CircuitOpenError struct {
	Destination string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.Destination)
}

// Unwrap lets errors.Is match breaker.ErrOpen.
func (e *CircuitOpenError) Unwrap() error {
	return breaker.ErrOpen
}

func (e *CircuitOpenError) clientError() {}

// ParseError reports a Retry-After value that is neither a number of seconds
// nor a valid HTTP-date. The retry loop falls back to the backoff policy
// instead of propagating it.
type ParseError struct {
	Value string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable Retry-After value %q", e.Value)
}

func (e *ParseError) clientError() {}

// IsClientError reports whether err belongs to the client error taxonomy.
func IsClientError(err error) bool {
	var ce ClientError
	return errors.As(err, &ce)
}

// IsRetryable reports whether the failure is transient: connection errors,
// timeouts, and 5xx or 429 responses. 429 follows the same backoff schedule
// as server errors.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Class {
	case ErrorClassConnection, ErrorClassTimeout:
		return true
	case ErrorClassHTTP:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsTimeout reports whether err is a connect or read timeout.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassTimeout
}

// IsConnection reports whether err is a network-unreachable failure.
func IsConnection(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassConnection
}

// IsCircuitOpen reports whether err is a fail-fast breaker rejection.
func IsCircuitOpen(err error) bool {
	var e *CircuitOpenError
	return errors.As(err, &e)
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Class == ErrorClassHTTP {
		return e.StatusCode, true
	}
	return 0, false
}

// classOf extracts the error class for logging and metric labels.
func classOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return ErrorClassCircuitOpen
	}
	return ErrorClass("unknown")
}
