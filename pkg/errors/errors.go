package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the different kinds of failure a crawl run can hit
type ErrorType string

const (
	ErrorTypeAuthentication    ErrorType = "authentication"
	ErrorTypeConfiguration     ErrorType = "configuration"
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
	ErrorTypeTransport         ErrorType = "transport"
	ErrorTypeRateLimit         ErrorType = "rate_limit"
	ErrorTypeSessionTeardown   ErrorType = "session_teardown"
	ErrorTypeUnknown           ErrorType = "unknown"
)

// Error is a typed crawler error. Code carries the HTTP status when one is known.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Type)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewAuthenticationError reports a rejected createSession call
func NewAuthenticationError(status int, body string) *Error {
	return &Error{
		Type:    ErrorTypeAuthentication,
		Message: "session creation rejected",
		Code:    status,
		Body:    body,
	}
}

// NewConfigurationError reports an invalid endpoint, mode or setting
func NewConfigurationError(msg string, err error) *Error {
	return &Error{Type: ErrorTypeConfiguration, Message: msg, Err: err}
}

// NewMalformedResponseError reports a response body that could not be decoded into a record
func NewMalformedResponseError(msg string, err error) *Error {
	return &Error{Type: ErrorTypeMalformedResponse, Message: msg, Err: err}
}

// NewTransportError reports a failed fetch. Status 0 means the request never got a response.
func NewTransportError(status int, msg string, err error) *Error {
	t := ErrorTypeTransport
	if status == 429 {
		t = ErrorTypeRateLimit
	}
	return &Error{Type: t, Message: msg, Code: status, Err: err}
}

// NewRateLimitError reports a local or remote rate limit
func NewRateLimitError(msg string) *Error {
	return &Error{Type: ErrorTypeRateLimit, Message: msg, Code: 429}
}

// NewSessionTeardownError wraps a failed deleteSession call
func NewSessionTeardownError(err error) *Error {
	e := &Error{Type: ErrorTypeSessionTeardown, Message: "session teardown failed", Err: err}
	var inner *Error
	if stderrors.As(err, &inner) {
		e.Code = inner.Code
	}
	return e
}

// IsType reports whether any error in err's chain is an *Error of type t
func IsType(err error, t ErrorType) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeTransport, ErrorTypeRateLimit:
		return IsRetryableStatusCode(e.Code)
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	case 500, 502, 503, 504:
		return true
	case 400, 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
