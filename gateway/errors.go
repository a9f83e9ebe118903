package gateway

import (
	"errors"
	"fmt"

	"github.com/onnwee/teams-classbot/credential"
)

var (
	// ErrUnauthorized is matched by a StatusError carrying 401 or 403.
	ErrUnauthorized = errors.New("gateway: unauthorized")
	// ErrRequestFailed is matched by any other StatusError and by transport failures.
	ErrRequestFailed = errors.New("gateway: request failed")
	// ErrRequestTimeout is returned when a call exceeds the gateway timeout.
	ErrRequestTimeout = errors.New("gateway: request timed out")
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is maps the status onto ErrUnauthorized or ErrRequestFailed.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == 401 || e.StatusCode == 403
	case ErrRequestFailed:
		return e.StatusCode != 401 && e.StatusCode != 403
	}
	return false
}

// ErrorClass groups gateway failures for metrics and caller policy.
type ErrorClass int

const (
	// ClassOK means no error.
	ClassOK ErrorClass = iota
	// ClassUnauthorized is a 401/403; the API credential has been dropped.
	ClassUnauthorized
	// ClassRequestFailed is any other non-success status or transport error.
	ClassRequestFailed
	// ClassTimeout is a call that exceeded the gateway timeout.
	ClassTimeout
	// ClassCredential means no credential could be obtained.
	ClassCredential
	// ClassCanceled means the caller gave up first.
	ClassCanceled
)

// String returns the metric label for the class.
func (c ErrorClass) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassRequestFailed:
		return "request_failed"
	case ClassTimeout:
		return "timeout"
	case ClassCredential:
		return "credential_unavailable"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify reports the class of an error returned by Gateway.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, credential.ErrCredentialUnavailable):
		return ClassCredential
	case errors.Is(err, ErrRequestTimeout):
		return ClassTimeout
	case errors.Is(err, ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, ErrRequestFailed):
		return ClassRequestFailed
	default:
		return ClassCanceled
	}
}
