package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorizes orchestrator errors for propagation decisions:
// transport errors surface to the caller, parse and lookup errors are
// recovered locally.
type ErrorKind string

const (
	// ErrorKindNotFound indicates an unknown session or workflow id.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindUpstream indicates the agent endpoint returned a failure.
	ErrorKindUpstream ErrorKind = "upstream"

	// ErrorKindTimeout indicates the outbound call exceeded its deadline.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindParse indicates a malformed upstream record.
	ErrorKindParse ErrorKind = "parse"

	// ErrorKindServer indicates an internal failure.
	ErrorKindServer ErrorKind = "server"
)

// OrchestratorError is the canonical error type crossing component
// boundaries.
type OrchestratorError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *OrchestratorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OrchestratorError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode maps the error kind to a status code for the API surface.
func (e *OrchestratorError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindUpstream:
		return http.StatusBadGateway
	case ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case ErrorKindParse:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrSessionNotFound reports a forward against an unknown session id.
// Unlike subscribe and workflow updates, forwarding must fail loudly:
// silently dropping a response would lose user input.
func ErrSessionNotFound(sessionID string) *OrchestratorError {
	return &OrchestratorError{
		Kind:    ErrorKindNotFound,
		Message: fmt.Sprintf("session %q not found", sessionID),
	}
}

// ErrUpstream reports a non-success response from the agent endpoint.
func ErrUpstream(message string, cause error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindUpstream, Message: message, Cause: cause}
}

// ErrTimeout reports an exceeded forward deadline.
func ErrTimeout(message string, cause error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindTimeout, Message: message, Cause: cause}
}

// ErrParse reports a malformed inbound or upstream payload.
func ErrParse(message string, cause error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindParse, Message: message, Cause: cause}
}

// ErrServer reports an internal failure.
func ErrServer(message string, cause error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindServer, Message: message, Cause: cause}
}

// IsNotFound reports whether err is a not-found orchestrator error.
func IsNotFound(err error) bool {
	var oe *OrchestratorError
	return errors.As(err, &oe) && oe.Kind == ErrorKindNotFound
}
