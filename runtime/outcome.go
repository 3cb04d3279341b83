package runtime

import (
	"github.com/endlesschasey-ai/agent-template/types"
)

// LifecycleState is the state of one stream.
type LifecycleState string

// Lifecycle states. Completed, Errored, and Cancelled are terminal.
const (
	StateNotStarted LifecycleState = "not_started"
	StateStreaming  LifecycleState = "streaming"
	StateCompleted  LifecycleState = "completed"
	StateErrored    LifecycleState = "errored"
	StateCancelled  LifecycleState = "cancelled"
)

// IsTerminal returns true for states a stream cannot leave.
func (s LifecycleState) IsTerminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

// Outcome describes how a stream ended.
type Outcome struct {
	State  LifecycleState
	Status types.SessionStatus
	// ErrorType is set when an error event precedes session_end.
	ErrorType types.ErrorType
	// Recoverable is reported on the error event.
	Recoverable bool
}

// DetermineOutcome maps the stream error to its terminal state and wire status.
//
//   - nil: completed
//   - canceled: cancelled, no error event
//   - validation: error(validation, not recoverable)
//   - timeout: error(timeout, recoverable; the client may retry)
//   - anything else: error(system, not recoverable)
func DetermineOutcome(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{State: StateCompleted, Status: types.SessionStatusCompleted}
	case IsCanceledError(err):
		return Outcome{State: StateCancelled, Status: types.SessionStatusCancelled}
	case IsValidationError(err):
		return Outcome{State: StateErrored, Status: types.SessionStatusError, ErrorType: types.ErrorTypeValidation}
	case IsTimeoutError(err):
		return Outcome{State: StateErrored, Status: types.SessionStatusError, ErrorType: types.ErrorTypeTimeout, Recoverable: true}
	default:
		return Outcome{State: StateErrored, Status: types.SessionStatusError, ErrorType: types.ErrorTypeSystem}
	}
}
