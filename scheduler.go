package guestloop

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Scheduler is a cooperative, single-threaded task runner designed for
// external driving: it never blocks waiting for work and never runs a loop
// of its own. Each call to Step advances it by one scheduling increment.
// The Bridge drives it from the host loop's pump; it can also be driven
// directly, e.g. from a test harness.
type Scheduler struct {
	// Prevent copying
	_ [0]func()

	logger *logiface.Logger[logiface.Event]

	// Submission side (producers: any goroutine)
	mu      sync.Mutex
	ingress *ingressQueue

	// Lifecycle: schedActive → schedCancelling → schedTerminated
	state atomic.Uint32

	// Stepping side, guarded by stepMu. Step and the cancellation drain
	// are the only holders; tasks themselves never touch these fields,
	// they interact purely through their resume/yield channels.
	stepMu sync.Mutex
	ready  []*taskState
	timers sleepHeap
	live   int

	// Cancelled by CancelAll; every TaskContext observes it.
	ctx    context.Context
	cancel context.CancelFunc

	// Injection points for deterministic failure testing.
	testHooks *schedTestHooks
}

// schedTestHooks provides injection points for deterministic testing.
type schedTestHooks struct {
	PreStep func() // called at the start of every Step, under stepMu
}

// sleeper is a suspended task with a wake deadline.
type sleeper struct {
	when time.Time
	task *taskState
}

// sleepHeap is a min-heap of sleepers, earliest deadline first.
type sleepHeap []sleeper

func (h sleepHeap) Len() int           { return len(h) }
func (h sleepHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h sleepHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *sleepHeap) Push(x any) {
	*h = append(*h, x.(sleeper))
}

func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// NewScheduler creates a scheduler in the active state. It spawns no
// goroutines; nothing runs until Step is called.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		logger:  cfg.logger,
		ingress: &ingressQueue{},
	}
	s.state.Store(schedActive)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// Submit enqueues a task for execution, in submission order, without
// blocking. Safe to call from any goroutine; the task first runs during a
// subsequent Step.
//
// Returns ErrSchedulerTerminated once CancelAll has been called. A panic
// occurs if task is nil.
//
// NOTE: a Submit racing a concurrent CancelAll may be discarded without the
// task ever starting; fire-and-forget submission means no caller is owed a
// start.
func (s *Scheduler) Submit(task Task) error {
	if task == nil {
		panic(`guestloop: nil task`)
	}

	if s.state.Load() != schedActive {
		return ErrSchedulerTerminated
	}

	s.mu.Lock()
	s.ingress.Push(task)
	s.mu.Unlock()

	return nil
}

// Step advances the scheduler by one non-blocking increment: expired
// sleepers are woken, newly submitted tasks are accepted, and every
// currently-ready task runs for exactly one turn. Work that becomes ready
// during the step (yields, nested submissions) waits for the next call, so
// each step is bounded and the caller regains control promptly.
//
// Returns the number of turns executed. Task-level errors and panics are
// contained and logged, never returned; a non-nil error from Step means the
// stepping machinery itself failed (wrapped in *FatalError), or the
// scheduler is terminated (ErrSchedulerTerminated).
//
// Concurrent calls are serialized; the intended use is a single driving
// loop.
func (s *Scheduler) Step() (n int, err error) {
	if s.state.Load() == schedTerminated {
		return 0, ErrSchedulerTerminated
	}

	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	// A panic reaching here cannot be a task panic (those are recovered at
	// the turn boundary): the stepping machinery itself is broken. The
	// scheduler is unusable; poison it so tasks observe cancellation.
	defer func() {
		if r := recover(); r != nil {
			s.cancel()
			s.state.Store(schedTerminated)
			err = &FatalError{Cause: &PanicError{Value: r}}
		}
	}()

	if s.testHooks != nil && s.testHooks.PreStep != nil {
		s.testHooks.PreStep()
	}

	// re-check under stepMu: a CancelAll may have won the lock first
	switch s.state.Load() {
	case schedTerminated:
		return 0, ErrSchedulerTerminated
	case schedCancelling:
		s.drainCancelled()
		return 0, ErrSchedulerTerminated
	}

	n = s.step()

	// a task may have initiated cancellation during its turn, via
	// Bridge.Stop; complete it before giving the host loop back
	if s.state.Load() == schedCancelling {
		s.drainCancelled()
	}

	return n, nil
}

// step runs one scheduling increment. CALLER MUST HOLD stepMu.
func (s *Scheduler) step() int {
	now := time.Now()

	// wake expired sleepers first; they predate anything still sitting in
	// the ingress queue
	for len(s.timers) > 0 && !s.timers[0].when.After(now) {
		e := heap.Pop(&s.timers).(sleeper)
		s.ready = append(s.ready, e.task)
	}

	// then accept newly submitted tasks, in submission order
	s.drainIngress()

	if len(s.ready) == 0 {
		return 0
	}

	batch := s.ready
	s.ready = nil

	for _, ts := range batch {
		s.runTurn(ts, now)
	}

	if b := s.logger.Debug(); b.Enabled() {
		b.Int(`turns`, len(batch)).Int(`live`, s.live).Log(`guestloop: step complete`)
	}

	return len(batch)
}

// drainIngress moves all pending submissions into the ready set.
// CALLER MUST HOLD stepMu.
func (s *Scheduler) drainIngress() {
	s.mu.Lock()
	backlog := s.ingress.TakeAll()
	s.mu.Unlock()

	for _, task := range backlog {
		s.ready = append(s.ready, newTaskState(s, task))
	}
	recycleBacklog(backlog)
}

// runTurn hands the turn to a task and blocks until the task hands it back
// by finishing, yielding, or suspending. CALLER MUST HOLD stepMu.
func (s *Scheduler) runTurn(ts *taskState, now time.Time) {
	if !ts.started {
		ts.started = true
		s.live++
		go ts.run()
	} else {
		ts.resume <- struct{}{}
	}

	t := <-ts.yield
	switch t.outcome {
	case turnDone:
		s.live--
		if t.err != nil && !errors.Is(t.err, context.Canceled) {
			// task-level failure: isolated at the turn boundary, logged,
			// never propagated to the pump or to sibling tasks
			s.logger.Err().Err(t.err).Log(`guestloop: task failed`)
		}
	case turnYielded:
		s.ready = append(s.ready, ts)
	case turnSleeping:
		heap.Push(&s.timers, sleeper{when: now.Add(t.sleep), task: ts})
	}
}

// CancelAll cooperatively cancels every task known to the scheduler and
// rejects all further submissions. Suspended tasks are resumed with a
// cancellation error at their suspension point; tasks not yet started are
// discarded without running. Cancellation is cooperative: a task only truly
// stops when its function returns, there is no preemption.
//
// Idempotent, and safe to call from any goroutine, including from within a
// task's own turn (in which case the drain completes before the in-flight
// Step returns).
func (s *Scheduler) CancelAll() {
	if !s.state.CompareAndSwap(schedActive, schedCancelling) {
		return
	}

	// from this point no suspension point will block and no submission is
	// accepted
	s.cancel()

	s.discardIngress()

	if s.stepMu.TryLock() {
		s.drainCancelled()
		s.stepMu.Unlock()
	}
	// else: a Step is in flight (possibly the very task that called us);
	// it observes schedCancelling and drains before returning
}

// drainCancelled resumes every live task so it observes cancellation, then
// marks the scheduler terminated. After s.cancel, suspension points fail
// without giving up the turn, so each resumed task runs to its function's
// return within a single turn. CALLER MUST HOLD stepMu.
func (s *Scheduler) drainCancelled() {
	s.discardIngress()

	for len(s.timers) > 0 {
		e := heap.Pop(&s.timers).(sleeper)
		s.ready = append(s.ready, e.task)
	}

	now := time.Now()
	for len(s.ready) > 0 {
		batch := s.ready
		s.ready = nil
		for _, ts := range batch {
			if !ts.started {
				// never started: nothing to cancel
				continue
			}
			s.runTurn(ts, now)
		}
	}

	s.state.Store(schedTerminated)

	if b := s.logger.Debug(); b.Enabled() {
		b.Int(`live`, s.live).Log(`guestloop: scheduler terminated`)
	}
}

// discardIngress drops all pending submissions without running them.
func (s *Scheduler) discardIngress() {
	s.mu.Lock()
	backlog := s.ingress.TakeAll()
	s.mu.Unlock()
	recycleBacklog(backlog)
}

// Terminated returns true once CancelAll has completed.
func (s *Scheduler) Terminated() bool {
	return s.state.Load() == schedTerminated
}
