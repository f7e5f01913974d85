// Package apierror provides the normalized error representation returned by
// every FieldServe client operation. Raw transport failures never escape the
// client: they are converted to *Error at the HTTP boundary, carrying a
// stable machine-readable code, the HTTP status (0 when no response was
// received), and a retryability flag consulted by the retry engine.
package apierror

import (
	"errors"
	"fmt"
	"strconv"
)

// Code is a machine-readable error classification string.
type Code string

// Transport-level error codes. HTTP failures use HTTPCode(status), producing
// codes of the form "HTTP_404". These form a public API contract; callers
// can program against these stable codes. Do not rename or remove.
const (
	CodeTimeout         Code = "TIMEOUT"
	CodeNetworkError    Code = "NETWORK_ERROR"
	CodeCircuitOpen     Code = "CIRCUIT_BREAKER_OPEN"
	CodeAborted         Code = "REQUEST_ABORTED"
	CodeTooManyInFlight Code = "TOO_MANY_IN_FLIGHT"
	CodeAuthInProgress  Code = "AUTH_IN_PROGRESS"
	CodeInternal        Code = "CLIENT_INTERNAL"
)

// HTTPCode returns the code for an HTTP status, e.g. HTTPCode(503) == "HTTP_503".
func HTTPCode(status int) Code {
	return Code("HTTP_" + strconv.Itoa(status))
}

// FieldIssue is a single field-level validation problem extracted from a
// 422 response body.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"msg"`
}

// Error is the normalized API error. Every failure surfaced to application
// code has this shape.
type Error struct {
	// Message is human-readable and safe to show to an end user.
	Message string
	// Code is the machine-readable classification.
	Code Code
	// Status is the HTTP status code, or 0 if no response was received.
	Status int
	// Details holds field-level validation issues for 422 responses.
	Details []FieldIssue
	// Retryable reports whether the retry engine may re-attempt the
	// operation that produced this error.
	Retryable bool
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// CircuitOpen returns the synthetic error raised when the circuit breaker
// for an endpoint is open. No network call was attempted.
func CircuitOpen() *Error {
	return &Error{
		Message:   "The service is temporarily unavailable. Please try again shortly.",
		Code:      CodeCircuitOpen,
		Status:    0,
		Retryable: false,
	}
}

// TooManyInFlight returns the error raised when the per-endpoint concurrency
// limit is reached. The request was rejected locally, so it is retryable.
func TooManyInFlight(endpoint string) *Error {
	return &Error{
		Message:   "Too many requests in flight for " + endpoint + ".",
		Code:      CodeTooManyInFlight,
		Status:    0,
		Retryable: true,
	}
}

// Aborted returns the error for a cooperatively cancelled request. Aborted
// requests are never retried.
func Aborted(cause error) *Error {
	msg := "The request was cancelled."
	if cause != nil {
		msg = "The request was cancelled: " + cause.Error()
	}
	return &Error{
		Message:   msg,
		Code:      CodeAborted,
		Status:    0,
		Retryable: false,
	}
}

// AuthInProgress returns the error raised when an auth operation is rejected
// because another one is already running for the same session.
func AuthInProgress(operation string) *Error {
	return &Error{
		Message:   operation + " already in progress",
		Code:      CodeAuthInProgress,
		Status:    0,
		Retryable: false,
	}
}

// Internal returns the error for a client-side fault (request construction,
// response decoding). Non-retryable so bugs are not masked by retries.
func Internal(what string, cause error) *Error {
	msg := what
	if cause != nil {
		msg = what + ": " + cause.Error()
	}
	return &Error{
		Message:   msg,
		Code:      CodeInternal,
		Status:    0,
		Retryable: false,
	}
}

// From extracts the normalized *Error from err, if any.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err is a normalized error marked retryable.
// Unknown errors are treated as non-retryable to avoid masking bugs.
func IsRetryable(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable
	}
	return false
}

// IsCircuitOpen reports whether err is a circuit-breaker rejection.
func IsCircuitOpen(err error) bool {
	e, ok := From(err)
	return ok && e.Code == CodeCircuitOpen
}

// IsAuth reports whether err is an authentication failure (401 or 403).
func IsAuth(err error) bool {
	e, ok := From(err)
	return ok && (e.Status == 401 || e.Status == 403)
}
