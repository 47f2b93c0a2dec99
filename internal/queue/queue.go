// Package queue implements a FIFO admission queue bounding concurrent work.
package queue

import (
	"container/list"
	"sync"
)

// Runner is admitted work. It must call release exactly once when done;
// extra calls are ignored.
type Runner func(release func())

// Queue admits at most Limit runners at a time, in arrival order.
type Queue struct {
	mu      sync.Mutex
	limit   int
	active  int
	pending *list.List

	onChange func(active, pending int)
}

// Option configures a Queue.
type Option func(*Queue)

// WithObserver registers fn to be called with the occupancy after every change.
func WithObserver(fn func(active, pending int)) Option {
	return func(q *Queue) { q.onChange = fn }
}

// New creates a Queue admitting at most limit runners concurrently. limit < 1 is treated as 1.
func New(limit int, opts ...Option) *Queue {
	if limit < 1 {
		limit = 1
	}

	q := &Queue{
		limit:   limit,
		pending: list.New(),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue admits run immediately when a slot is free, otherwise appends it to
// the pending list. Admitted runners start on their own goroutine.
func (q *Queue) Enqueue(run Runner) {
	q.mu.Lock()

	if q.active >= q.limit {
		q.pending.PushBack(run)
		q.notify()
		q.mu.Unlock()

		return
	}

	q.active++
	q.notify()
	q.mu.Unlock()

	q.start(run)
}

// Release frees one slot and admits the oldest pending runner, if any.
// Runners get a guarded release func; call Release directly only for slots
// not obtained through Enqueue.
func (q *Queue) Release() {
	q.mu.Lock()

	if q.active > 0 {
		q.active--
	}

	var next Runner

	if front := q.pending.Front(); front != nil && q.active < q.limit {
		next = q.pending.Remove(front).(Runner)
		q.active++
	}

	q.notify()
	q.mu.Unlock()

	if next != nil {
		q.start(next)
	}
}

func (q *Queue) start(run Runner) {
	var once sync.Once

	go run(func() { once.Do(q.Release) })
}

// Active returns the number of runners holding a slot.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.active
}

// Pending returns the number of runners waiting for a slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending.Len()
}

// Limit returns the configured concurrency.
func (q *Queue) Limit() int {
	return q.limit
}

// notify must be called with mu held.
func (q *Queue) notify() {
	if q.onChange != nil {
		q.onChange(q.active, q.pending.Len())
	}
}
