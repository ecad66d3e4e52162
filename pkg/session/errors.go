package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations.
var (
	// ErrInvalidTransition is wrapped by every *TransitionError.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrScoringPending is returned when Capture is issued while the
	// previous frame is still being scored.
	ErrScoringPending = errors.New("session: scoring in progress")

	// ErrNotFound is returned by Registry lookups for unknown handles.
	ErrNotFound = errors.New("session: not found")
)

// TransitionError reports an operator command issued from a state that
// does not accept it. The session state is left unchanged.
type TransitionError struct {
	Op   Op
	From State

	// Reason narrows the failure, e.g. ErrScoringPending. May be nil.
	Reason error
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("session: cannot %s from %s: %v", e.Op, e.From, e.Reason)
	}
	return fmt.Sprintf("session: cannot %s from %s", e.Op, e.From)
}

// Unwrap returns ErrInvalidTransition and, if set, Reason.
func (e *TransitionError) Unwrap() []error {
	if e.Reason != nil {
		return []error{ErrInvalidTransition, e.Reason}
	}
	return []error{ErrInvalidTransition}
}
