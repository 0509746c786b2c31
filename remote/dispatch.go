package remote

import (
	"context"
	"sync"
)

// Dispatcher decides on which goroutine, and when, callbacks run. All
// callbacks of one source go through a single dispatcher so they are
// serialized in the order they were produced.
type Dispatcher interface {
	Dispatch(fn func())
}

// Immediate runs callbacks on the producing goroutine. Callbacks produced
// while another callback is running are queued and run once it returns,
// so a listener that mutates the store does not see events out of order.
type Immediate struct {
	mu      sync.Mutex
	running bool
	pending []func()
}

// NewImmediate returns a synchronous dispatcher.
func NewImmediate() *Immediate {
	return &Immediate{}
}

// Dispatch runs fn now, or after the callback currently running.
func (d *Immediate) Dispatch(fn func()) {
	d.mu.Lock()
	d.pending = append(d.pending, fn)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	for len(d.pending) > 0 {
		next := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()
		next()
		d.mu.Lock()
	}
	d.running = false
	d.mu.Unlock()
}

// Queue holds callbacks until Flush is called.
type Queue struct {
	mu      sync.Mutex
	pending []func()
}

// NewQueue returns a manually drained dispatcher.
func NewQueue() *Queue {
	return &Queue{}
}

// Dispatch queues fn.
func (q *Queue) Dispatch(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, fn)
}

// Len returns the number of queued callbacks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush runs queued callbacks, including ones queued while flushing, and
// returns how many ran.
func (q *Queue) Flush() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return n
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		next()
		n++
	}
}

// Loop runs callbacks on the goroutine that calls Run.
type Loop struct {
	work chan func()
	done chan struct{}
	once sync.Once
}

// NewLoop returns a loop buffering up to size callbacks.
func NewLoop(size int) *Loop {
	if size < 1 {
		size = 1
	}
	return &Loop{
		work: make(chan func(), size),
		done: make(chan struct{}),
	}
}

// Dispatch hands fn to the loop. It blocks while the buffer is full and
// drops fn once the loop has stopped.
func (l *Loop) Dispatch(fn func()) {
	select {
	case l.work <- fn:
	case <-l.done:
	}
}

// Post is an alias of Dispatch for code that schedules its own work.
func (l *Loop) Post(fn func()) {
	l.Dispatch(fn)
}

// Run executes callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case fn := <-l.work:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
