package guestloop

import (
	"context"
	"time"
)

// Task is one unit of asynchronous work. It runs as a coroutine: on its own
// goroutine, but only while it holds the scheduling turn, which it gives up
// at the suspension points on ctx. Arguments are captured by closing over
// them.
//
// A Task is fire and forget. The submitter receives no handle and cannot
// await the result; the returned error is logged and discarded. Returning
// ctx.Err() after a failed suspension point is the expected way to honor
// cancellation.
//
// The TaskContext must not be used concurrently from goroutines spawned by
// the task, and must not be retained after the task returns.
type Task func(ctx *TaskContext) error

// turnOutcome is what a task goroutine reports back to the scheduler at the
// end of each turn.
type turnOutcome uint8

const (
	// turnDone indicates the task function returned (or panicked).
	turnDone turnOutcome = iota
	// turnYielded indicates the task gave up its turn and is immediately
	// ready again.
	turnYielded
	// turnSleeping indicates the task suspended until a deadline.
	turnSleeping
)

// turn is the message passed from a task goroutine to the scheduler when
// the task gives up control.
type turn struct {
	err     error         // turnDone only
	sleep   time.Duration // turnSleeping only
	outcome turnOutcome
}

// taskState is the scheduler-side record of one coroutine.
//
// The resume/yield channels are unbuffered: the scheduler sends on resume
// (or starts the goroutine) to hand the turn to the task, then blocks on
// yield until the task hands it back. At most one of the pair executes at
// any instant.
type taskState struct {
	fn      Task
	tc      *TaskContext
	resume  chan struct{}
	yield   chan turn
	started bool
}

func newTaskState(s *Scheduler, fn Task) *taskState {
	ts := &taskState{
		fn:     fn,
		resume: make(chan struct{}),
		yield:  make(chan turn),
	}
	ts.tc = &TaskContext{ts: ts, ctx: s.ctx}
	return ts
}

// run is the task goroutine body. The final yield send is deferred so it
// also fires when the task function panics; the scheduler is always blocked
// on the yield channel whenever the task is executing, so the send cannot
// block indefinitely.
func (ts *taskState) run() {
	t := turn{outcome: turnDone}
	defer func() {
		if r := recover(); r != nil {
			t.err = &PanicError{Value: r}
		}
		ts.yield <- t
	}()
	t.err = ts.fn(ts.tc)
}

// TaskContext is the per-task handle through which a running [Task] reaches
// its suspension points and observes cancellation. It is only valid while
// the task function is on the stack.
type TaskContext struct {
	ts  *taskState
	ctx context.Context
}

// Context returns a context that is cancelled when the bridge stops (or the
// scheduler is cancelled). It is suitable for passing to context-aware
// calls made while holding the turn.
func (x *TaskContext) Context() context.Context {
	return x.ctx
}

// Done returns a channel closed on cancellation, mirroring
// [context.Context].
func (x *TaskContext) Done() <-chan struct{} {
	return x.ctx.Done()
}

// Err returns non-nil once the task has been cancelled, mirroring
// [context.Context].
func (x *TaskContext) Err() error {
	return x.ctx.Err()
}

// Sleep suspends the task for at least d, giving the turn back to the
// scheduler. The actual delay is quantized by the pump interval: the task
// resumes on the first pump firing at or after the deadline.
//
// Returns a non-nil error (context.Canceled) if the task has been
// cancelled, whether before the call or while suspended. Tasks should
// return promptly once Sleep fails.
func (x *TaskContext) Sleep(d time.Duration) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	x.ts.yield <- turn{outcome: turnSleeping, sleep: d}
	<-x.ts.resume
	return x.ctx.Err()
}

// Yield gives up the current turn without a deadline; the task is ready
// again on the next scheduler step. Long-running tasks should call Yield
// periodically so the host loop, and other tasks, can make progress.
//
// Returns a non-nil error (context.Canceled) if the task has been
// cancelled; in that case the turn was not given up.
func (x *TaskContext) Yield() error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	x.ts.yield <- turn{outcome: turnYielded}
	<-x.ts.resume
	return x.ctx.Err()
}
