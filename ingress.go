package guestloop

import (
	"sync"
)

// ingressQueue collects tasks submitted between scheduler steps. Its
// consumer never removes items one at a time: each step, and the
// cancellation drain, takes the entire backlog in a single swap. That
// makes the queue a pooled slice rather than a linked structure; pushes
// are appends, and a drain is a pointer exchange under the lock.
//
// Thread Safety: this struct is NOT thread-safe. The caller must provide
// external synchronization (the Scheduler's submission mutex).
type ingressQueue struct {
	pending []Task
}

// backlogPool recycles drained backlogs, keeping steady-state submission
// allocation-free once the slice has grown to the burst size.
var backlogPool = sync.Pool{
	New: func() any {
		return new([]Task)
	},
}

// Push adds a task to the backlog.
//
// CALLER MUST HOLD EXTERNAL MUTEX.
func (q *ingressQueue) Push(task Task) {
	if q.pending == nil {
		q.pending = (*backlogPool.Get().(*[]Task))[:0]
	}
	q.pending = append(q.pending, task)
}

// TakeAll removes and returns the entire backlog, in submission order.
// Returns nil when empty. The caller owns the slice and must hand it to
// recycleBacklog once every element has been consumed.
//
// CALLER MUST HOLD EXTERNAL MUTEX.
func (q *ingressQueue) TakeAll() []Task {
	backlog := q.pending
	q.pending = nil
	return backlog
}

// Length returns the number of pending tasks.
//
// CALLER MUST HOLD EXTERNAL MUTEX.
func (q *ingressQueue) Length() int {
	return len(q.pending)
}

// recycleBacklog clears and pools a slice obtained from TakeAll, so
// retained closures can be collected. Safe on nil.
func recycleBacklog(backlog []Task) {
	if backlog == nil {
		return
	}
	for i := range backlog {
		backlog[i] = nil
	}
	backlog = backlog[:0]
	backlogPool.Put(&backlog)
}
