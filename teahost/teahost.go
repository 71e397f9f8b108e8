// Package teahost adapts a Bubble Tea program to the guestloop Host
// interface, so async tasks can be launched from TUI key handlers while the
// program's event loop stays responsive.
//
// The adapter wraps the caller's model. Recurring callbacks registered via
// Every are driven by re-arming tea.Tick commands, with the callback itself
// executed on a command goroutine, never on the event loop goroutine: the
// callback (and any task turns run inside it) may therefore deliver
// messages with Program().Send, and may Quit, without blocking against the
// loop's own message receive. Each registration re-arms only after its
// callback returns, so a single registration never overlaps itself;
// distinct registrations may run concurrently.
package teahost

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Host is a guestloop Host backed by a Bubble Tea program. Instances must
// be created with New.
type Host struct {
	program *tea.Program

	// set before Program.Run; Every uses it to decide between arming via
	// Send (loop running) and arming from Init (loop not yet entered)
	running atomic.Bool

	mu     sync.Mutex
	nextID int
	timers map[int]*recurring
}

// recurring is one Every registration. Removal from Host.timers is what
// stops it: a tick whose id no longer resolves is simply not re-armed.
type recurring struct {
	id       int
	interval time.Duration
	fn       func()
}

// tickMsg is an internal message carrying one firing of a recurring
// callback.
type tickMsg struct{ id int }

// armMsg requests that a recurring callback be armed: after its callback
// completes, and for registrations made while the program is already
// running.
type armMsg struct{ id int }

// New creates a Host wrapping the given model. The inner model sees every
// message except the adapter's internal tick messages.
func New(inner tea.Model, opts ...tea.ProgramOption) *Host {
	h := &Host{timers: make(map[int]*recurring)}
	h.program = tea.NewProgram(model{host: h, inner: inner}, opts...)
	return h
}

// Program returns the underlying Bubble Tea program, e.g. so tasks can
// deliver results to the UI via its Send method.
func (h *Host) Program() *tea.Program {
	return h.program
}

// Run enters the program's event loop and blocks until it exits.
func (h *Host) Run() error {
	h.running.Store(true)
	defer h.running.Store(false)
	_, err := h.program.Run()
	return err
}

// Quit requests the program exit its event loop. Delivery is asynchronous:
// Send blocks until the loop reaches its message receive, so a synchronous
// call from Update, or from a recurring callback mid-firing, would never
// return. Quit is accordingly safe from any of those contexts, and from
// any goroutine.
func (h *Host) Quit() {
	go h.program.Send(tea.Quit())
}

// Every registers fn to fire repeatedly at approximately the given
// interval. The callback runs on a command goroutine, serialized with
// itself (the next firing is armed only after fn returns); it may call
// Quit and Program().Send freely. May be called before Run; registrations
// made early are armed by the wrapped model's Init.
func (h *Host) Every(interval time.Duration, fn func()) (stop func(), err error) {
	if interval <= 0 {
		return nil, fmt.Errorf(`teahost: interval must be positive, got %v`, interval)
	}
	if fn == nil {
		return nil, fmt.Errorf(`teahost: nil callback`)
	}

	h.mu.Lock()
	h.nextID++
	r := &recurring{id: h.nextID, interval: interval, fn: fn}
	h.timers[r.id] = r
	h.mu.Unlock()

	if h.running.Load() {
		// asynchronous for the same reason as Quit
		go h.program.Send(armMsg{id: r.id})
	}

	var once sync.Once
	stop = func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.timers, r.id)
			h.mu.Unlock()
		})
	}
	return stop, nil
}

func (h *Host) lookup(id int) *recurring {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timers[id]
}

// model wraps the caller's model, intercepting the adapter's internal
// messages and forwarding everything else.
type model struct {
	host  *Host
	inner tea.Model
}

func (m model) Init() tea.Cmd {
	m.host.mu.Lock()
	cmds := make([]tea.Cmd, 0, len(m.host.timers)+1)
	for _, r := range m.host.timers {
		cmds = append(cmds, tick(r))
	}
	m.host.mu.Unlock()

	if cmd := m.inner.Init(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case armMsg:
		if r := m.host.lookup(msg.id); r != nil {
			return m, tick(r)
		}
		return m, nil
	case tickMsg:
		r := m.host.lookup(msg.id)
		if r == nil {
			// stopped; don't re-arm
			return m, nil
		}
		return m, fire(r)
	}

	inner, cmd := m.inner.Update(msg)
	m.inner = inner
	return m, cmd
}

func (m model) View() string {
	return m.inner.View()
}

// tick returns a command that delivers one firing of the recurring
// callback after its interval.
func tick(r *recurring) tea.Cmd {
	return tea.Tick(r.interval, func(time.Time) tea.Msg {
		return tickMsg{id: r.id}
	})
}

// fire returns a command that invokes the recurring callback and then
// requests the next arming. Commands run on their own goroutines, so the
// event loop stays at its receive while the callback executes; this is
// what makes Send and Quit usable from inside a firing.
func fire(r *recurring) tea.Cmd {
	return func() tea.Msg {
		r.fn()
		return armMsg{id: r.id}
	}
}
