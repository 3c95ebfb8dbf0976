// Package apperrors provides the error taxonomy shared across the
// conversation engine: a small set of machine-stable codes plus an
// AppError wrapper that carries an HTTP status for the status/control
// surface in internal/httpapi.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants. AuthMissing/ProcessSpawnError/ProcessExit/
// JSONLParseError/DryrunTimeout are the conversation-engine-specific codes
// from the error handling design; the rest are generic HTTP-boundary codes.
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	ErrCodeAuthMissing      = "AUTH_MISSING"
	ErrCodeProcessSpawn     = "PROCESS_SPAWN_ERROR"
	ErrCodeProcessExit      = "PROCESS_EXIT"
	ErrCodeJSONLParseError  = "JSONL_PARSE_ERROR"
	ErrCodeDryrunTimeout    = "DRYRUN_TIMEOUT"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error with a wrapped
// underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// AuthMissing reports that an agent family's required credential (e.g. an
// API key or session token env var) was not present when the adapter tried
// to launch.
func AuthMissing(agentType, envVar string) *AppError {
	return &AppError{
		Code:       ErrCodeAuthMissing,
		Message:    fmt.Sprintf("%s requires %s to be set", agentType, envVar),
		HTTPStatus: http.StatusPreconditionFailed,
	}
}

// ProcessSpawnError reports that os/exec failed to start the agent binary.
func ProcessSpawnError(agentType string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeProcessSpawn,
		Message:    fmt.Sprintf("failed to spawn %s process", agentType),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ProcessExit reports that an agent's subprocess exited unexpectedly
// (non-zero or before producing a turn.completed event).
func ProcessExit(agentType string, exitCode int) *AppError {
	return &AppError{
		Code:       ErrCodeProcessExit,
		Message:    fmt.Sprintf("%s process exited with code %d", agentType, exitCode),
		HTTPStatus: http.StatusInternalServerError,
	}
}

// JSONLParseError reports a stream parser failing to decode a line of
// vendor JSON output.
func JSONLParseError(agentType string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeJSONLParseError,
		Message:    fmt.Sprintf("failed to parse %s output line", agentType),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// DryrunTimeout reports that a turn exceeded its configured deadline
// without producing a turn.completed event.
func DryrunTimeout(memberID string) *AppError {
	return &AppError{
		Code:       ErrCodeDryrunTimeout,
		Message:    fmt.Sprintf("member %q did not complete its turn before the timeout", memberID),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// Wrap wraps an existing error with additional context, returning an
// AppError. If err is already an AppError, its code and status survive.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error. Returns 500 if
// the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
