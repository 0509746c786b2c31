package reactive

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/logging"
)

// Dependency is something a computation can read and be invalidated by.
// Implementations must be comparable (pointer types).
type Dependency interface {
	AddListener(id string, fn Listener)
	RemoveListener(id string)
}

// Tracker is the tracking context handed to running computations. It
// holds the stack of computations currently executing.
type Tracker struct {
	pending []*Computation
}

// NewTracker returns a tracker with nothing pending.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Pending returns the running computations, outermost first.
func (t *Tracker) Pending() []*Computation {
	if t == nil {
		return nil
	}
	return append([]*Computation(nil), t.pending...)
}

// Active reports whether any computation is running.
func (t *Tracker) Active() bool {
	return t != nil && len(t.pending) > 0
}

// Depend records d as a dependency of every running computation. It is
// safe to call on a nil tracker, which tracks nothing.
func (t *Tracker) Depend(d Dependency) {
	if t == nil {
		return
	}
	for _, c := range t.pending {
		c.track(d)
	}
}

func (t *Tracker) run(c *Computation) error {
	t.pending = append(t.pending, c)
	defer func() { t.pending = t.pending[:len(t.pending)-1] }()
	return c.fn(t)
}

// Computation is a function re-run whenever a dependency it read changes.
type Computation struct {
	id        string
	name      string
	fn        func(*Tracker) error
	scheduler *Scheduler

	mu      sync.Mutex
	deps    map[Dependency]struct{}
	dirty   bool
	stopped bool
	err     error
	runs    int
}

// ID returns the unique id used as the listener id on dependencies.
func (c *Computation) ID() string { return c.id }

// Name returns the name given to Track.
func (c *Computation) Name() string { return c.name }

// Err returns the error of the last run. Errors wrapping ErrPending are
// reported too; use Waiting to tell them apart.
func (c *Computation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Waiting reports whether the last run stopped on a pending value.
func (c *Computation) Waiting() bool {
	return errors.Is(c.Err(), ErrPending)
}

// Runs returns how many times the computation ran.
func (c *Computation) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Dependencies returns how many dependencies the last run recorded.
func (c *Computation) Dependencies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deps)
}

// Dirty reports whether the computation is queued for a re-run.
func (c *Computation) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Invalidate marks the computation dirty and queues it. It is the
// listener registered on dependencies.
func (c *Computation) Invalidate() error {
	c.mu.Lock()
	if c.stopped || c.dirty {
		c.mu.Unlock()
		return nil
	}
	c.dirty = true
	c.mu.Unlock()
	c.scheduler.enqueue(c)
	return nil
}

// Stop releases all dependencies; the computation never runs again.
func (c *Computation) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.dirty = false
	c.mu.Unlock()
	c.release()
}

// Stopped reports whether Stop was called.
func (c *Computation) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Computation) track(d Dependency) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.deps[d] = struct{}{}
	c.mu.Unlock()
	d.AddListener(c.id, c.Invalidate)
}

// release removes the computation from every dependency of its last run.
func (c *Computation) release() {
	c.mu.Lock()
	deps := c.deps
	c.deps = make(map[Dependency]struct{})
	c.mu.Unlock()
	for d := range deps {
		d.RemoveListener(c.id)
	}
}

// Scheduler owns the tracker and the queue of dirty computations. Like
// the data it watches it is meant to be driven from a single goroutine.
type Scheduler struct {
	tracker *Tracker
	logger  *logrus.Entry

	mu       sync.Mutex
	queue    []*Computation
	wake     func()
	maxRuns  int
	flushing bool
}

// NewScheduler creates a scheduler with its own tracker.
func NewScheduler(logger *logrus.Entry) *Scheduler {
	return &Scheduler{
		tracker: NewTracker(),
		logger:  logging.OrDefault(logger, "reactive"),
		maxRuns: 10000,
	}
}

// Tracker returns the scheduler's tracking context.
func (s *Scheduler) Tracker() *Tracker {
	return s.tracker
}

// OnWake sets a function called whenever the queue goes from empty to
// non-empty, typically to schedule a Flush on an event loop.
func (s *Scheduler) OnWake(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wake = fn
}

// Track creates a computation and runs it immediately.
func (s *Scheduler) Track(name string, fn func(*Tracker) error) *Computation {
	c := &Computation{
		id:        uuid.NewString(),
		name:      name,
		fn:        fn,
		scheduler: s,
		deps:      make(map[Dependency]struct{}),
	}
	s.run(c)
	return c
}

// Queued returns the number of dirty computations.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush re-runs dirty computations in the order they were invalidated,
// including ones invalidated while flushing. It returns the number of
// runs. A flush stops after a fixed number of runs so a computation that
// invalidates itself cannot spin forever.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return 0
	}
	s.flushing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flushing = false
		s.mu.Unlock()
	}()

	runs := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return runs
		}
		if runs >= s.maxRuns {
			n := len(s.queue)
			s.mu.Unlock()
			s.logger.WithField("queued", n).Error("flush aborted, computations keep invalidating")
			return runs
		}
		c := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		c.mu.Lock()
		skip := c.stopped || !c.dirty
		c.dirty = false
		c.mu.Unlock()
		if skip {
			continue
		}
		s.run(c)
		runs++
	}
}

func (s *Scheduler) run(c *Computation) {
	c.release()

	err := s.safeRun(c)

	c.mu.Lock()
	c.runs++
	c.err = err
	c.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, ErrPending):
		s.logger.WithField("computation", c.name).Debug("computation waiting for data")
	default:
		s.logger.WithError(err).WithField("computation", c.name).Warn("computation failed")
	}
}

func (s *Scheduler) safeRun(c *Computation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reactive: computation %s panicked: %v", c.name, r)
		}
	}()
	return s.tracker.run(c)
}

func (s *Scheduler) enqueue(c *Computation) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	wake := s.wake
	first := len(s.queue) == 1
	s.mu.Unlock()
	if first && wake != nil {
		wake()
	}
}
