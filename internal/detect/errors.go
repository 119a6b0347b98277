package detect

import (
	"errors"
	"fmt"
)

// FailureKind classifies a failed submission.
type FailureKind string

const (
	// NetworkFailure means the transport failed before any response arrived.
	NetworkFailure FailureKind = "network_failure"
	// ServerError means the service answered with a non-2xx status.
	ServerError FailureKind = "server_error"
	// ResponseParseError means the response body was not valid JSON.
	ResponseParseError FailureKind = "response_parse_error"
)

// SubmitError is a terminal, non-retryable submission failure.
type SubmitError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	return e.Message
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain, defaulting to
// NetworkFailure for unclassified errors.
func KindOf(err error) FailureKind {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Kind
	}
	return NetworkFailure
}

func networkFailure(err error) *SubmitError {
	return &SubmitError{
		Kind:    NetworkFailure,
		Message: fmt.Sprintf("network failure: %v", err),
		Err:     err,
	}
}

func serverError(status int, body string) *SubmitError {
	return &SubmitError{
		Kind:    ServerError,
		Message: fmt.Sprintf("detection service returned HTTP %d: %s", status, body),
	}
}

func parseError(err error) *SubmitError {
	return &SubmitError{
		Kind:    ResponseParseError,
		Message: fmt.Sprintf("malformed detection response: %v", err),
		Err:     err,
	}
}
