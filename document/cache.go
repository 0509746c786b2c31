// Package document keeps a local copy of the value at one remote path.
//
// A Cache subscribes to value events when opened. Until the first event
// arrives the cache is not set, and reads fail with ErrNotAvailableYet,
// which is distinct from a legitimately empty (nil) value. Reads through a
// reactive.Tracker register the running computations so they are
// invalidated when the value changes.
package document

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/future"
	"github.com/jacentio/trellis/logging"
	"github.com/jacentio/trellis/reactive"
	"github.com/jacentio/trellis/remote"
)

var (
	// ErrNotAvailableYet is returned by reads before the first value arrived.
	ErrNotAvailableYet = fmt.Errorf("document: value not available yet: %w", reactive.ErrPending)

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("document: cache closed")
)

// Cache mirrors the value at one path.
type Cache struct {
	ref    remote.Ref
	logger *logrus.Entry

	mu        sync.Mutex
	sub       remote.Subscription
	value     any
	set       bool
	err       error
	closed    bool
	first     *future.Future[any]
	observers *reactive.Observers
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Cache) { c.logger = l }
}

// Open subscribes to the value at path.
func Open(src remote.Source, path string, opts ...Option) *Cache {
	return OpenRef(src.Ref(path), opts...)
}

// OpenRef subscribes to the value of ref.
func OpenRef(ref remote.Ref, opts ...Option) *Cache {
	c := &Cache{
		ref:   ref,
		first: future.New[any](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger, "document").WithField("path", ref.Path())
	c.observers = reactive.NewObservers(c.logger)

	sub := ref.On(remote.EventValue, c.onValue, c.onError)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Off()
		return c
	}
	c.sub = sub
	c.mu.Unlock()
	return c
}

// Ref returns the remote handle of the cache.
func (c *Cache) Ref() remote.Ref {
	return c.ref
}

// Path returns the mirrored path.
func (c *Cache) Path() string {
	return c.ref.Path()
}

// Get returns a copy of the current value. Every computation running on
// t is registered as dependent on the cache, whether or not the value is
// available yet. Before the first value it returns ErrNotAvailableYet.
func (c *Cache) Get(t *reactive.Tracker) (any, error) {
	t.Depend(c)
	return c.Peek()
}

// Peek is Get without dependency tracking.
func (c *Cache) Peek() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return nil, ErrNotAvailableYet
	}
	return remote.Clone(c.value), nil
}

// Decode copies the current value into out.
func (c *Cache) Decode(t *reactive.Tracker, out any) error {
	v, err := c.Get(t)
	if err != nil {
		return err
	}
	return remote.Decode(v, out)
}

// IsSet reports whether a value has arrived.
func (c *Cache) IsSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// Err returns the subscription error, if the remote reported one. The last
// value stays readable.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// FirstValue resolves with a copy of the first value the cache receives.
// Later values do not affect it. It fails with the subscription error if
// the remote refuses the path before any value arrived.
func (c *Cache) FirstValue() *future.Future[any] {
	return future.Map(c.first, remote.Clone)
}

// Set replaces the remote value.
func (c *Cache) Set(value any) *future.Future[struct{}] {
	if c.isClosed() {
		return future.Rejected[struct{}](ErrClosed)
	}
	return c.ref.Set(value)
}

// Update writes the given fields of the remote value.
func (c *Cache) Update(values map[string]any) *future.Future[struct{}] {
	if c.isClosed() {
		return future.Rejected[struct{}](ErrClosed)
	}
	return c.ref.Update(values)
}

// Push adds a child under the path with a generated key.
func (c *Cache) Push(value any) *future.Future[string] {
	if c.isClosed() {
		return future.Rejected[string](ErrClosed)
	}
	return c.ref.Push(value)
}

// Remove deletes the remote value and everything below it.
func (c *Cache) Remove() *future.Future[struct{}] {
	if c.isClosed() {
		return future.Rejected[struct{}](ErrClosed)
	}
	return c.ref.Remove()
}

// Close detaches from the remote. It is idempotent. Listeners are dropped
// and no later remote value reaches the cache.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Off()
	}
	c.observers.Clear()
	c.logger.Debug("document closed")
}

// Closed reports whether Close was called.
func (c *Cache) Closed() bool {
	return c.isClosed()
}

// AddListener implements reactive.Dependency.
func (c *Cache) AddListener(id string, fn reactive.Listener) {
	if c.isClosed() {
		return
	}
	c.observers.Add(id, fn)
}

// RemoveListener implements reactive.Dependency.
func (c *Cache) RemoveListener(id string) {
	c.observers.Remove(id)
}

// Listeners returns the number of registered listeners.
func (c *Cache) Listeners() int {
	return c.observers.Len()
}

func (c *Cache) onValue(snap remote.Snapshot, _ string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.value = snap.Value
	c.set = true
	c.err = nil
	c.mu.Unlock()

	c.first.Resolve(remote.Clone(snap.Value))

	if failed := c.observers.Notify(); failed > 0 {
		c.logger.WithField("failed", failed).Warn("some listeners failed")
	}
}

func (c *Cache) onError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.mu.Unlock()

	// the subscription is gone, so a first value can no longer arrive
	c.first.Reject(err)

	c.logger.WithError(err).Warn("value subscription failed")
	c.observers.Notify()
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
