package runtime

import (
	"errors"

	"github.com/endlesschasey-ai/agent-template/types"
)

// StreamError classifies stream failures for outcome determination.
type StreamError struct {
	// Kind selects the error event category and terminal status.
	Kind StreamErrorKind
	// Err is the underlying error.
	Err error
}

// StreamErrorKind classifies stream errors.
type StreamErrorKind int

const (
	// StreamErrorValidation indicates a rejected request (unknown session, empty input).
	StreamErrorValidation StreamErrorKind = iota
	// StreamErrorExecution indicates one notification could not be translated.
	// Never terminal.
	StreamErrorExecution
	// StreamErrorSystem indicates a generation or persistence failure.
	StreamErrorSystem
	// StreamErrorTimeout indicates the stream exceeded its deadline.
	StreamErrorTimeout
	// StreamErrorCanceled indicates the client went away or the context was cancelled.
	StreamErrorCanceled
)

// String returns the kind name.
func (k StreamErrorKind) String() string {
	switch k {
	case StreamErrorValidation:
		return "validation"
	case StreamErrorExecution:
		return "execution"
	case StreamErrorSystem:
		return "system"
	case StreamErrorTimeout:
		return "timeout"
	case StreamErrorCanceled:
		return "canceled"
	}
	return "unknown"
}

// ErrorType maps the kind to the wire error category.
// Cancellation has no error event and maps to system.
func (k StreamErrorKind) ErrorType() types.ErrorType {
	switch k {
	case StreamErrorValidation:
		return types.ErrorTypeValidation
	case StreamErrorExecution:
		return types.ErrorTypeExecution
	case StreamErrorTimeout:
		return types.ErrorTypeTimeout
	}
	return types.ErrorTypeSystem
}

func (e *StreamError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func newStreamError(kind StreamErrorKind, err error) *StreamError {
	return &StreamError{Kind: kind, Err: err}
}

func isKind(err error, kind StreamErrorKind) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsValidationError returns true if the request was rejected before streaming.
func IsValidationError(err error) bool { return isKind(err, StreamErrorValidation) }

// IsExecutionError returns true if a single notification failed translation.
func IsExecutionError(err error) bool { return isKind(err, StreamErrorExecution) }

// IsSystemError returns true if generation or persistence failed.
func IsSystemError(err error) bool { return isKind(err, StreamErrorSystem) }

// IsTimeoutError returns true if the stream deadline elapsed.
func IsTimeoutError(err error) bool { return isKind(err, StreamErrorTimeout) }

// IsCanceledError returns true if the error is due to context cancellation
// or a broken client connection.
func IsCanceledError(err error) bool { return isKind(err, StreamErrorCanceled) }

// Sentinel causes for validation and translation failures.
var (
	ErrEmptyContent     = errors.New("content must not be empty")
	ErrMissingSession   = errors.New("session_id is required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateTool    = errors.New("tool already started")
	ErrUnknownTool      = errors.New("tool was never started")
	ErrToolAlreadyEnded = errors.New("tool already ended")
	ErrMalformed        = errors.New("malformed notification")
)
