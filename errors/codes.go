package errors

// ErrorCode represents a machine-readable error code. Codes travel across the
// call bridge unchanged, so a controller can match on the same code the
// worker produced.
type ErrorCode string

// Worker lifecycle errors
const (
	// ErrCodeSpawnFailure indicates the worker process could not be started.
	ErrCodeSpawnFailure ErrorCode = "SPAWN_FAILURE"
	// ErrCodeCallTimeout indicates a bridge call received no response in time.
	ErrCodeCallTimeout ErrorCode = "CALL_TIMEOUT"
	// ErrCodeProcessDead indicates the worker has exited or was torn down.
	ErrCodeProcessDead ErrorCode = "PROCESS_DEAD"
	// ErrCodePipelineGone indicates the owning pipeline was garbage collected.
	ErrCodePipelineGone ErrorCode = "PIPELINE_GONE"
)

// Graph errors
const (
	// ErrCodeNoSuchElementType indicates the media framework has no such element type.
	ErrCodeNoSuchElementType ErrorCode = "NO_SUCH_ELEMENT_TYPE"
	// ErrCodeInvalidPropertyTarget indicates a property value the element cannot accept.
	ErrCodeInvalidPropertyTarget ErrorCode = "INVALID_PROPERTY_TARGET"
	// ErrCodeLinkFailure indicates two elements could not be connected.
	ErrCodeLinkFailure ErrorCode = "LINK_FAILURE"
)

// Playback errors
const (
	// ErrCodeSeekDeadlockRisk indicates a seek that could deadlock the framework.
	ErrCodeSeekDeadlockRisk ErrorCode = "SEEK_DEADLOCK_RISK"
	// ErrCodeClockNotValid indicates the pipeline position clock is not readable.
	ErrCodeClockNotValid ErrorCode = "CLOCK_NOT_VALID"
	// ErrCodeStateTimeout indicates a state transition was not confirmed in time.
	ErrCodeStateTimeout ErrorCode = "STATE_TIMEOUT"
)

// Generic errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeSpawnFailure:  true,
	ErrCodeStateTimeout:  true,
	ErrCodeClockNotValid: true,
	// A timed out call kills the worker; the call itself is never retried.
	ErrCodeCallTimeout: false,
	ErrCodeInternal:    false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
