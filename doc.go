// Package guestloop bridges a cooperative, single-threaded task scheduler
// with a host application's native event loop, so asynchronous tasks can be
// launched from host callbacks and run to completion while the host loop
// stays responsive.
//
// # Architecture
//
// The bridge is built from three parts. A [Scheduler] is a cooperative task
// runner that never runs on its own: it only makes progress when stepped. A
// [Bridge] owns a Scheduler's lifecycle, installs a recurring pump callback
// on the host loop, and enters the host's blocking run call. The pump fires
// at a fixed short interval and advances the Scheduler by one non-blocking
// increment per firing, interleaving task execution with the host's own
// event processing.
//
// The host is abstracted as the [Host] interface: a blocking run entry
// point, a quit method callable from any callback, and a mechanism to
// register a recurring loop-thread callback. The teahost subpackage provides
// a Host backed by a Bubble Tea program; tests can supply anything that
// satisfies the interface.
//
// # Task Model
//
// A [Task] is a function run as a coroutine: it executes on its own
// goroutine, but only ever while it holds the scheduling turn, which it
// gives up at explicit suspension points ([TaskContext.Sleep],
// [TaskContext.Yield]). Exactly one of the scheduler or a task is executing
// at any instant, so scheduler state needs no locking against tasks.
//
// Submission is fire and forget: [Bridge.Submit] returns immediately, hands
// back no handle, and the caller cannot await or individually cancel the
// task. A task that must deliver a result to the host should use whatever
// loop-safe delivery mechanism the host provides (for Bubble Tea,
// Program.Send).
//
// # Thread Safety
//
//   - [Bridge.Submit] and [Scheduler.Submit] are safe to call from any
//     goroutine.
//   - [Bridge.Stop] is idempotent and safe from a host callback, from
//     within a task, or from any other goroutine.
//   - [Scheduler.Step] is intended to be driven from a single host loop;
//     concurrent calls are serialized.
//
// # Error Handling
//
// A task-level error or panic is contained at the turn boundary: it is
// logged and discarded, and cannot affect sibling tasks, the pump, or the
// host loop. Lifecycle misuse surfaces synchronously as [ErrAlreadyRunning]
// or [ErrNotRunning]. A failure of the stepping machinery itself is fatal:
// the bridge shuts down both loops and [Bridge.Start] returns a
// [FatalError].
//
// # Usage
//
//	host := teahost.New(model)
//	bridge, err := guestloop.New(host)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// from a host callback:
//	_ = bridge.Submit(func(ctx *guestloop.TaskContext) error {
//		if err := ctx.Sleep(500 * time.Millisecond); err != nil {
//			return err
//		}
//		// deliver results via a loop-safe callback, e.g. Program.Send
//		return nil
//	})
//
//	// blocks until bridge.Stop() or the host loop exits
//	err = bridge.Start()
package guestloop
