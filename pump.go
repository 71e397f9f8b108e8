package guestloop

import (
	"errors"
)

// pump is the recurring host-loop callback, registered once per lifecycle
// via Host.Every. One firing advances the scheduler by exactly one
// non-blocking step; this is the only place suspended tasks are resumed.
//
// The pump never unregisters itself while Running, even when the scheduler
// reports no work: it has no way to know new work won't arrive from a
// future host callback. Only Stop cancels the recurrence.
func (x *Bridge) pump() {
	if x.state.Load() != StateRunning {
		// a firing already dispatched when Stop cancelled the recurrence
		// may still be delivered; ignore it
		return
	}

	x.mu.Lock()
	sched := x.sched
	x.mu.Unlock()
	if sched == nil {
		return
	}

	_, err := sched.Step()
	if err == nil || errors.Is(err, ErrSchedulerTerminated) {
		return
	}

	// the stepping machinery itself failed; task-level errors never
	// surface here. Tear the whole bridge down and report from Start.
	x.logger.Err().Err(err).Log(`guestloop: fatal pump error`)

	x.mu.Lock()
	if x.fatal == nil {
		x.fatal = err
	}
	x.mu.Unlock()

	x.Stop()
}
