// Package errors provides the error taxonomy shared by the controller and
// the worker. Every failure that crosses the call bridge is an AppError with
// a stable code, so callers can branch on the code regardless of which side
// of the process boundary produced it.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// HasCode reports whether err (or anything it wraps) is an AppError with code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// --- Worker lifecycle ---

// SpawnFailure is returned when the worker could not be started after retries.
func SpawnFailure(binary string, attempts int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeSpawnFailure, Message: fmt.Sprintf("worker %s could not be started after %d attempts", binary, attempts),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"binary": binary, "attempts": attempts}, Cause: cause,
	}
}

// CallTimeout is returned when a bridge call got no response within its bound.
func CallTimeout(method string, timeout time.Duration) *AppError {
	return &AppError{
		Code: ErrCodeCallTimeout, Message: fmt.Sprintf("call %s got no response within %s", method, timeout),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: false,
		Details: map[string]any{"method": method},
	}
}

// ProcessDead is returned for any call attempted after the worker died.
func ProcessDead(reason string) *AppError {
	if reason == "" {
		reason = "worker process is already dead"
	}
	return &AppError{
		Code: ErrCodeProcessDead, Message: reason,
		HTTPStatus: http.StatusGone, Retryable: false,
	}
}

// PipelineGone is returned by element proxies whose pipeline was collected.
func PipelineGone() *AppError {
	return &AppError{
		Code: ErrCodePipelineGone, Message: "the pipeline owning this element no longer exists",
		HTTPStatus: http.StatusGone, Retryable: false,
	}
}

// --- Graph ---

// NoSuchElementType is returned when the framework cannot make an element type.
func NoSuchElementType(elementType string) *AppError {
	return &AppError{
		Code: ErrCodeNoSuchElementType, Message: fmt.Sprintf("nonexistent element type: %s", elementType),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"type": elementType},
	}
}

// InvalidPropertyTarget is returned when a property value is unusable for the element.
func InvalidPropertyTarget(property, reason string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidPropertyTarget, Message: fmt.Sprintf("cannot set %s: %s", property, reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"property": property},
	}
}

// LinkFailure is returned when two elements could not be connected.
func LinkFailure(src, dst string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeLinkFailure, Message: fmt.Sprintf("could not link %s to %s", src, dst),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"src": src, "dst": dst}, Cause: cause,
	}
}

// --- Playback ---

// SeekDeadlockRisk is returned for a non-flushing seek while paused.
func SeekDeadlockRisk() *AppError {
	return &AppError{
		Code: ErrCodeSeekDeadlockRisk, Message: "cannot do a non-flushing seek in the paused state as this may deadlock",
		HTTPStatus: http.StatusConflict, Retryable: false,
	}
}

// ClockNotValid is returned when the position clock is unreadable.
func ClockNotValid(reason string) *AppError {
	return &AppError{
		Code: ErrCodeClockNotValid, Message: fmt.Sprintf("clock not valid: %s", reason),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
	}
}

// StateTimeout is returned when a requested state was not reached in time.
func StateTimeout(want, have string) *AppError {
	return &AppError{
		Code: ErrCodeStateTimeout, Message: fmt.Sprintf("timeout waiting for state %s, pipeline still in %s", want, have),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"want": want, "have": have},
	}
}

// --- Generic ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("the requested %s was not found", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// Conflict creates a new AppError for a conflict with the current state.
func Conflict(reason string) *AppError {
	return &AppError{
		Code: ErrCodeConflict, Message: reason,
		HTTPStatus: http.StatusConflict, Retryable: false,
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// Internal creates a new AppError for an internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// Wrap converts any error into an AppError. AppErrors anywhere in the chain
// are returned as-is; anything else becomes an internal error.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
