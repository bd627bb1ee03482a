package crawler

import (
	"fmt"
)

// ErrorKind is the category of an upstream failure
type ErrorKind string

const (
	// ErrorKindTransport covers connection failures and non-2xx statuses
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindApplicationCode is an error code carried inside a 200 payload
	ErrorKindApplicationCode ErrorKind = "application_code"
	// ErrorKindRateLimited is a throttling phrase in the message field
	ErrorKindRateLimited ErrorKind = "rate_limited"
)

// UpstreamError is returned by the fetch operations
type UpstreamError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("upstream %s error (code %s): %s", e.Kind, e.Code, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("upstream %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream %s error: %s", e.Kind, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

func newTransportError(statusCode int, message string, cause error) *UpstreamError {
	return &UpstreamError{
		Kind:       ErrorKindTransport,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

func newApplicationError(code, message string) *UpstreamError {
	return &UpstreamError{
		Kind:    ErrorKindApplicationCode,
		Code:    code,
		Message: message,
	}
}

func newRateLimitError(message string) *UpstreamError {
	return &UpstreamError{
		Kind:    ErrorKindRateLimited,
		Message: message,
	}
}
