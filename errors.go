package guestloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrAlreadyRunning is returned by Bridge.Start when a lifecycle is
	// already in progress on the same Bridge.
	ErrAlreadyRunning = errors.New("guestloop: bridge is already running")

	// ErrNotRunning is returned by Bridge.Submit when no lifecycle is in
	// progress (Idle or Stopping).
	ErrNotRunning = errors.New("guestloop: bridge is not running")

	// ErrSchedulerTerminated is returned when operations are attempted on a
	// scheduler that has been cancelled.
	ErrSchedulerTerminated = errors.New("guestloop: scheduler has been terminated")
)

// InitializationError wraps a failure to bring the bridge up: the scheduler
// could not be constructed, or the pump could not be installed on the host
// loop. It is returned by Bridge.Start before the host loop is entered.
type InitializationError struct {
	Cause error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("guestloop: initialization failed: %v", e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and
// [errors.As].
func (e *InitializationError) Unwrap() error {
	return e.Cause
}

// FatalError wraps an unrecoverable failure of the scheduler's stepping
// machinery itself, as distinct from a task-level error (which is isolated
// per task and never escapes the pump). It tears down the whole bridge and
// is returned by Bridge.Start after cleanup completes.
type FatalError struct {
	Cause error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("guestloop: fatal pump error: %v", e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and
// [errors.As].
func (e *FatalError) Unwrap() error {
	return e.Cause
}

// PanicError captures a value recovered from a panicking task. It is
// reported through the task error path (logged, contained at the turn
// boundary) and never propagates to the host loop.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("guestloop: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] and [errors.As] through the cause chain. If the
// value is not an error (e.g. a string), returns nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
