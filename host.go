package guestloop

import (
	"time"
)

// Host abstracts the native event loop that owns the thread of control: a
// GUI toolkit's application object, a TUI program, or a test fake. The
// bridge only ever touches a host through this surface.
//
// All three methods relate to a single native loop. Callbacks registered
// via Every are interleaved with the host's native event processing; Run
// must not return until Quit is called (or the loop ends of its own
// accord, e.g. the user closes the last window).
type Host interface {
	// Run enters the native loop and blocks until it exits. Called at most
	// once per bridge lifecycle.
	Run() error

	// Quit requests the native loop exit, causing Run to return. It must
	// be safe to call from a loop callback and from other goroutines, and
	// must be tolerant of the loop not running.
	Quit()

	// Every registers fn to be invoked repeatedly, at approximately the
	// given interval, starting once the loop runs. Invocations of a single
	// registration must be serialized (never overlap), and fn must be able
	// to call Quit, and deliver events to the loop by whatever mechanism
	// the host provides, without deadlocking. The returned stop function
	// cancels the recurrence; after stop returns, at most one
	// already-dispatched invocation may still be delivered. Every may be
	// called before Run.
	Every(interval time.Duration, fn func()) (stop func(), err error)
}
