package guestloop

import (
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

// Bridge orchestrates one Scheduler and one Host as a combined loop: Start
// installs the pump on the host loop and enters it, Submit hands work from
// host callbacks to the scheduler, Stop tears both halves down without
// deadlock or orphaned tasks.
//
// A Bridge is an explicit context object, not process-global state: several
// independent bridges may exist in one process (e.g. across test cases),
// though a single Bridge runs at most one lifecycle at a time. Instances
// must be created with New.
type Bridge struct {
	// Prevent copying
	_ [0]func()

	host     Host
	logger   *logiface.Logger[logiface.Event]
	interval time.Duration

	state bridgeStateMachine

	// stopMu serializes Stop bodies, so a lifecycle never tails out of
	// Start while a Stop is mid-teardown.
	stopMu sync.Mutex

	// Handles for the current lifecycle, guarded by mu.
	mu       sync.Mutex
	sched    *Scheduler
	stopPump func()
	fatal    error
}

// New initializes a Bridge for the given host. The bridge starts Idle;
// nothing happens until Start. A panic occurs if host is nil, or an error
// is returned if an invalid option is provided.
func New(host Host, opts ...Option) (*Bridge, error) {
	if host == nil {
		panic(`guestloop: nil host`)
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		host:     host,
		logger:   cfg.logger,
		interval: cfg.pumpInterval,
	}, nil
}

// Start initializes the scheduler, installs the pump as a recurring host
// callback, then enters the host's native blocking run call. It does not
// return until the lifecycle ends: Stop is called, the host loop exits of
// its own accord, or a fatal pump error tears the bridge down.
//
// Returns ErrAlreadyRunning (leaving the running lifecycle untouched) if
// called while not Idle, an *InitializationError if the bridge could not be
// brought up, a *FatalError if the lifecycle ended due to a scheduler
// stepping failure, and otherwise whatever the host's run call returned.
func (x *Bridge) Start() error {
	if !x.state.TryTransition(StateIdle, StateStarting) {
		return ErrAlreadyRunning
	}

	sched, err := NewScheduler(WithLogger(x.logger))
	if err != nil {
		x.state.Store(StateIdle)
		return &InitializationError{Cause: err}
	}

	stopPump, err := x.host.Every(x.interval, x.pump)
	if err != nil {
		sched.CancelAll()
		x.state.Store(StateIdle)
		return &InitializationError{Cause: err}
	}

	x.mu.Lock()
	x.sched = sched
	x.stopPump = stopPump
	x.fatal = nil
	x.mu.Unlock()

	x.state.Store(StateRunning)

	if b := x.logger.Info(); b.Enabled() {
		b.Dur(`interval`, x.interval).Log(`guestloop: bridge running`)
	}

	runErr := x.host.Run()

	// The host loop has exited. If Stop was never called, e.g. the host
	// quit on its own (last window closed), complete the shutdown sequence
	// now; if a Stop is mid-flight on another goroutine, this waits for it.
	x.Stop()

	x.mu.Lock()
	fatal := x.fatal
	x.sched = nil
	x.stopPump = nil
	x.mu.Unlock()

	x.state.Store(StateIdle)

	x.logger.Info().Log(`guestloop: bridge idle`)

	if fatal != nil {
		return fatal
	}
	return runErr
}

// Stop shuts the combined loop down: the pump's recurrence is cancelled
// first, then all outstanding tasks are cooperatively cancelled (not
// awaited to completion), then the host loop is asked to quit. The pump is
// always stopped before the scheduler is torn down, so a firing can never
// observe a cancelled scheduler handle.
//
// Idempotent: calling Stop twice, or while Idle, is a no-op. Safe to call
// from a host callback, from within a task, or from any other goroutine.
// Note Start, not Stop, is what returns the lifecycle to Idle; Stop merely
// initiates it.
func (x *Bridge) Stop() {
	x.stopMu.Lock()
	defer x.stopMu.Unlock()

	if !x.state.TryTransition(StateRunning, StateStopping) {
		return
	}

	x.logger.Info().Log(`guestloop: bridge stopping`)

	x.mu.Lock()
	stopPump := x.stopPump
	sched := x.sched
	x.mu.Unlock()

	// pump first, scheduler second
	if stopPump != nil {
		stopPump()
	}
	if sched != nil {
		sched.CancelAll()
	}

	x.host.Quit()
}

// Submit enqueues a task on the bridge's scheduler without blocking,
// typically from a host callback. The task first runs on a subsequent pump
// firing. Fire and forget: no handle is returned; see [Task].
//
// Returns ErrNotRunning when no lifecycle is in progress. Safe to call from
// any goroutine.
func (x *Bridge) Submit(task Task) error {
	switch x.state.Load() {
	case StateStarting, StateRunning:
	default:
		return ErrNotRunning
	}

	x.mu.Lock()
	sched := x.sched
	x.mu.Unlock()
	if sched == nil {
		return ErrNotRunning
	}

	if err := sched.Submit(task); err != nil {
		if errors.Is(err, ErrSchedulerTerminated) {
			// raced a concurrent Stop
			return ErrNotRunning
		}
		return err
	}
	return nil
}

// State returns the current lifecycle state.
func (x *Bridge) State() BridgeState {
	return x.state.Load()
}
