package guestloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanHost is a minimal Host for tests: a channel-driven loop that executes
// every callback on the Run goroutine, the way a GUI toolkit executes
// everything on its event thread.
type chanHost struct {
	mu          sync.Mutex
	quit        chan struct{}
	pendingQuit bool

	queue chan func()

	pumpStops atomic.Int32 // number of Every stop invocations
}

func newChanHost() *chanHost {
	return &chanHost{queue: make(chan func(), 1024)}
}

func (h *chanHost) Run() error {
	h.mu.Lock()
	if h.pendingQuit {
		h.pendingQuit = false
		h.mu.Unlock()
		return nil
	}
	quit := make(chan struct{})
	h.quit = quit
	h.mu.Unlock()

	for {
		select {
		case <-quit:
			return nil
		case fn := <-h.queue:
			fn()
		}
	}
}

func (h *chanHost) Quit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.quit == nil {
		h.pendingQuit = true
		return
	}
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
}

func (h *chanHost) Every(interval time.Duration, fn func()) (func(), error) {
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.pumpStops.Add(1)
			close(done)
		})
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case h.queue <- fn:
				default:
					// loop not draining; drop rather than block the timer
				}
			}
		}
	}()

	return stop, nil
}

// startBridge runs Start on its own goroutine and waits for Running.
func startBridge(t *testing.T, host Host, opts ...Option) (*Bridge, <-chan error) {
	t.Helper()

	opts = append([]Option{WithPumpInterval(time.Millisecond)}, opts...)
	bridge, err := New(host, opts...)
	require.NoError(t, err)

	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- bridge.Start()
		close(exited)
	}()

	waitState(t, bridge, StateRunning)
	t.Cleanup(func() {
		bridge.Stop()
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			t.Error(`bridge did not shut down`)
		}
	})

	return bridge, done
}

func waitState(t *testing.T, bridge *Bridge, want BridgeState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for bridge.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf(`timed out waiting for state %v, still %v`, want, bridge.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBridge_submittedTaskRuns(t *testing.T) {
	host := newChanHost()
	bridge, _ := startBridge(t, host)

	ran := make(chan struct{})
	require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
		close(ran)
		return nil
	}))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal(`submitted task never ran`)
	}
}

func TestBridge_Start_alreadyRunning(t *testing.T) {
	host := newChanHost()
	bridge, _ := startBridge(t, host)

	err := bridge.Start()
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// the failed call must leave the running lifecycle untouched
	assert.Equal(t, StateRunning, bridge.State())

	ran := make(chan struct{})
	require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
		close(ran)
		return nil
	}))
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal(`bridge no longer functional after failed second Start`)
	}
}

func TestBridge_Submit_whileIdle(t *testing.T) {
	bridge, err := New(newChanHost())
	require.NoError(t, err)

	err = bridge.Submit(func(ctx *TaskContext) error { return nil })
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, StateIdle, bridge.State())
}

func TestBridge_Stop_idempotent(t *testing.T) {
	host := newChanHost()
	bridge, done := startBridge(t, host)

	bridge.Stop()
	bridge.Stop() // no additional observable effect

	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, bridge.State())
	assert.Equal(t, int32(1), host.pumpStops.Load())
}

func TestBridge_Stop_whileIdleIsNoOp(t *testing.T) {
	bridge, err := New(newChanHost())
	require.NoError(t, err)
	bridge.Stop()
	assert.Equal(t, StateIdle, bridge.State())
}

func TestBridge_taskError_doesNotAffectSubsequentTasks(t *testing.T) {
	host := newChanHost()
	bridge, _ := startBridge(t, host)

	require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
		return errors.New(`task exploded`)
	}))

	ran := make(chan struct{})
	require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
		close(ran)
		return nil
	}))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal(`task submitted after a failing task never ran`)
	}
}

func TestBridge_sleepingTask_completesAcrossPumpFirings(t *testing.T) {
	host := newChanHost()
	bridge, done := startBridge(t, host)

	var flag atomic.Bool
	start := time.Now()
	require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
		if err := ctx.Sleep(100 * time.Millisecond); err != nil {
			return err
		}
		flag.Store(true)
		return nil
	}))

	deadline := time.Now().Add(5 * time.Second)
	for !flag.Load() {
		if time.Now().After(deadline) {
			t.Fatal(`sleeping task never completed`)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf(`task woke early: %v`, elapsed)
	}

	bridge.Stop()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), host.pumpStops.Load())
}

func TestBridge_threeImmediateTasks_allRun(t *testing.T) {
	host := newChanHost()
	bridge, _ := startBridge(t, host)

	var wg sync.WaitGroup
	var markers [3]atomic.Bool
	wg.Add(3)
	for i := range markers {
		i := i
		require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
			markers[i].Store(true)
			wg.Done()
			return nil
		}))
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal(`not all tasks ran`)
	}
	for i := range markers {
		assert.True(t, markers[i].Load(), `marker %d`, i)
	}
}

func TestBridge_Stop_cancelsTaskMidSleep(t *testing.T) {
	host := newChanHost()
	bridge, done := startBridge(t, host)

	sleeping := make(chan struct{})
	var completed atomic.Bool
	require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
		close(sleeping)
		if err := ctx.Sleep(10 * time.Second); err != nil {
			return err
		}
		completed.Store(true)
		return nil
	}))

	select {
	case <-sleeping:
	case <-time.After(5 * time.Second):
		t.Fatal(`task never started`)
	}
	// let the task actually park before stopping
	time.Sleep(10 * time.Millisecond)

	bridge.Stop()
	require.NoError(t, <-done)

	// the task was cancelled, not allowed to finish
	time.Sleep(50 * time.Millisecond)
	assert.False(t, completed.Load(), `cancelled task completed anyway`)
}

func TestBridge_Stop_fromWithinTask(t *testing.T) {
	host := newChanHost()
	bridge, done := startBridge(t, host)

	require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
		bridge.Stop()
		return nil
	}))

	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, bridge.State())
}

func TestBridge_hostExitsWithoutStop(t *testing.T) {
	host := newChanHost()
	bridge, done := startBridge(t, host)

	// the host quitting on its own (e.g. last window closed) must still
	// tear the bridge down fully
	host.Quit()

	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, bridge.State())
	assert.Equal(t, int32(1), host.pumpStops.Load())
	require.ErrorIs(t, bridge.Submit(func(ctx *TaskContext) error { return nil }), ErrNotRunning)
}

func TestBridge_fatalPumpError(t *testing.T) {
	host := newChanHost()
	bridge, done := startBridge(t, host)

	// break the stepping machinery; the hook write is serialized against
	// Step via stepMu
	bridge.mu.Lock()
	sched := bridge.sched
	bridge.mu.Unlock()
	require.NotNil(t, sched)
	sched.stepMu.Lock()
	sched.testHooks = &schedTestHooks{PreStep: func() {
		panic(`stepping machinery broken`)
	}}
	sched.stepMu.Unlock()

	err := <-done
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, StateIdle, bridge.State())
	assert.Equal(t, int32(1), host.pumpStops.Load())
}

func TestBridge_twoIndependentBridges(t *testing.T) {
	hostA, hostB := newChanHost(), newChanHost()
	bridgeA, _ := startBridge(t, hostA)
	bridgeB, _ := startBridge(t, hostB)

	ranA, ranB := make(chan struct{}), make(chan struct{})
	require.NoError(t, bridgeA.Submit(func(ctx *TaskContext) error {
		close(ranA)
		return nil
	}))
	require.NoError(t, bridgeB.Submit(func(ctx *TaskContext) error {
		close(ranB)
		return nil
	}))

	for name, ch := range map[string]chan struct{}{`a`: ranA, `b`: ranB} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf(`task on bridge %s never ran`, name)
		}
	}
}

func TestBridge_restartAfterStop(t *testing.T) {
	host := newChanHost()
	bridge, err := New(host, WithPumpInterval(time.Millisecond))
	require.NoError(t, err)

	for cycle := 0; cycle < 2; cycle++ {
		done := make(chan error, 1)
		go func() {
			done <- bridge.Start()
		}()
		waitState(t, bridge, StateRunning)

		ran := make(chan struct{})
		require.NoError(t, bridge.Submit(func(ctx *TaskContext) error {
			close(ran)
			return nil
		}))
		select {
		case <-ran:
		case <-time.After(5 * time.Second):
			t.Fatalf(`cycle %d: task never ran`, cycle)
		}

		bridge.Stop()
		require.NoError(t, <-done)
		require.Equal(t, StateIdle, bridge.State())
	}
}

func TestNew_nilHostPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error(`expected panic for nil host`)
		}
	}()
	_, _ = New(nil)
}

func TestNew_invalidOption(t *testing.T) {
	_, err := New(newChanHost(), WithPumpInterval(0))
	require.Error(t, err)
}
