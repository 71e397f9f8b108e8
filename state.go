package guestloop

import (
	"sync/atomic"
)

// BridgeState represents the current state of a [Bridge].
//
// State Machine:
//
//	StateIdle → StateStarting        [Start()]
//	StateStarting → StateRunning     [Start(), after the pump is installed]
//	StateStarting → StateIdle        [Start(), on initialization failure]
//	StateRunning → StateStopping     [Stop()]
//	StateStopping → StateIdle        [Start() returning, after teardown]
//
// State Transition Rules:
//   - Use TryTransition() (CAS) wherever another caller could race the
//     transition (Start entry, Stop entry).
//   - Use Store() only on paths that already own the state exclusively
//     (Start's failure and teardown tails).
//
// Calling Start() while not StateIdle fails with ErrAlreadyRunning. Calling
// Stop() while not StateRunning is a no-op.
type BridgeState uint32

const (
	// StateIdle indicates no bridge lifecycle is in progress.
	StateIdle BridgeState = iota
	// StateStarting indicates Start() has been entered but the host loop
	// has not yet been entered.
	StateStarting
	// StateRunning indicates the host loop is running with the pump
	// installed.
	StateRunning
	// StateStopping indicates Stop() has been called and teardown is in
	// progress; the host loop has not yet returned.
	StateStopping
)

// String returns a human-readable representation of the state.
func (s BridgeState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// bridgeStateMachine is a lock-free state machine for the bridge lifecycle.
//
// Pure atomic CAS, no mutex. Unlike a hot-path event loop there is no need
// for cache-line padding here; transitions happen a handful of times per
// lifecycle.
type bridgeStateMachine struct {
	v atomic.Uint32
}

// Load returns the current state atomically.
func (s *bridgeStateMachine) Load() BridgeState {
	return BridgeState(s.v.Load())
}

// Store atomically stores a new state, without transition validation.
func (s *bridgeStateMachine) Store(state BridgeState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another,
// returning true on success.
func (s *bridgeStateMachine) TryTransition(from, to BridgeState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// Scheduler lifecycle values, stored in Scheduler.state.
//
//	schedActive → schedCancelling    [CancelAll()]
//	schedCancelling → schedTerminated [cancellation drain complete]
//
// Submissions are accepted only while schedActive.
const (
	schedActive uint32 = iota
	schedCancelling
	schedTerminated
)
