package errors

import (
	stderrors "errors"
	"net/http"
)

// ErrorResponse is the JSON structure returned to HTTP clients.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the wire form of an AppError. It is what a bridge Response
// carries in place of a result, and what the status API renders.
type ErrorBody struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse converts an AppError to an ErrorResponse for JSON serialization.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Body()}
}

// Body returns the wire form of the error. The cause is flattened into the
// message because it cannot cross a process boundary.
func (e *AppError) Body() ErrorBody {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return ErrorBody{
		Code:      e.Code,
		Message:   msg,
		Retryable: e.Retryable,
		Details:   e.Details,
	}
}

// FromBody rebuilds an AppError from its wire form.
func FromBody(b ErrorBody) *AppError {
	code := b.Code
	if code == "" {
		code = ErrCodeInternal
	}
	return &AppError{
		Code:       code,
		Message:    b.Message,
		Retryable:  b.Retryable,
		HTTPStatus: http.StatusBadGateway,
		Details:    b.Details,
	}
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
