// Package memory provides an in-process remote store. It keeps the whole
// tree in memory, computes query windows on every change and delivers the
// resulting events through a remote.Dispatcher, which makes it suitable
// for tests, demos and offline use.
package memory

import (
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/future"
	"github.com/jacentio/trellis/logging"
	"github.com/jacentio/trellis/remote"
)

// Backend is an in-memory remote.Backend.
type Backend struct {
	mu         sync.Mutex
	root       any
	listeners  []*remote.Listener
	denied     map[string]error
	dispatcher remote.Dispatcher
	logger     *logrus.Entry
}

// Option configures a Backend.
type Option func(*Backend)

// WithDispatcher sets how callbacks are delivered. The default runs them
// synchronously.
func WithDispatcher(d remote.Dispatcher) Option {
	return func(b *Backend) { b.dispatcher = d }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(b *Backend) { b.logger = l }
}

// WithData seeds the tree.
func WithData(root map[string]any) Option {
	return func(b *Backend) {
		v, err := remote.Normalize(root)
		if err == nil {
			b.root = v
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Backend {
	b := &Backend{
		denied:     make(map[string]error),
		dispatcher: remote.NewImmediate(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrDefault(b.logger, "memory")
	return b
}

// Source returns a remote.Source over the store.
func (b *Backend) Source() remote.Source {
	return remote.NewSource(b)
}

// Value returns a copy of the value at path, for inspection.
func (b *Backend) Value(path string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return remote.Clone(remote.Lookup(b.root, path))
}

// Listeners returns the number of live listeners.
func (b *Backend) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Listen implements remote.Backend.
func (b *Backend) Listen(spec remote.Spec, event remote.EventType, cb remote.Callback, errCb remote.ErrorCallback) remote.Subscription {
	var l *remote.Listener
	l = remote.NewListener(spec, event, cb, errCb, func() { b.removeListener(l) })

	b.mu.Lock()
	if err := b.deniedLocked(spec.Path); err != nil {
		b.mu.Unlock()
		b.logger.WithField("path", spec.Path).Debug("listen denied")
		b.dispatcher.Dispatch(l.Fail(err))
		return l.Token
	}
	b.listeners = append(b.listeners, l)
	deliveries := l.Refresh(b.snapshotLocked(spec.Path))
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"query":        spec.String(),
		"event":        event,
		"subscription": l.Token.ID(),
	}).Debug("listener attached")

	b.dispatch(deliveries)
	return l.Token
}

// Read implements remote.Backend.
func (b *Backend) Read(spec remote.Spec) *future.Future[remote.Snapshot] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.deniedLocked(spec.Path); err != nil {
		return future.Rejected[remote.Snapshot](err)
	}
	snap := remote.Windowed(b.snapshotLocked(spec.Path), spec)
	snap.Value = remote.Clone(snap.Value)
	return future.Resolved(snap)
}

// Set implements remote.Backend.
func (b *Backend) Set(path string, value any) *future.Future[struct{}] {
	return b.mutate(path, map[string]any{"": value})
}

// Update implements remote.Backend. Keys of values are paths relative to
// path; nil values remove the field.
func (b *Backend) Update(path string, values map[string]any) *future.Future[struct{}] {
	if len(values) == 0 {
		return future.Resolved(struct{}{})
	}
	return b.mutate(path, values)
}

// Push implements remote.Backend.
func (b *Backend) Push(path string, value any) *future.Future[string] {
	key := ulid.Make().String()
	return future.Map(b.mutate(remote.JoinPath(path, key), map[string]any{"": value}), func(struct{}) string {
		return key
	})
}

// Remove implements remote.Backend.
func (b *Backend) Remove(path string) *future.Future[struct{}] {
	return b.mutate(path, map[string]any{"": nil})
}

// Deny makes path and everything below it inaccessible. Listeners inside
// it receive err (wrapped in a remote.QueryError) and are cancelled.
// A nil err denies with remote.ErrPermissionDenied.
func (b *Backend) Deny(path string, err error) {
	if err == nil {
		err = remote.ErrPermissionDenied
	}
	b.mu.Lock()
	b.denied[path] = err
	var deliveries []func()
	kept := b.listeners[:0]
	for _, l := range b.listeners {
		if remote.IsAncestor(path, l.Spec.Path) {
			deliveries = append(deliveries, l.Fail(err))
			continue
		}
		kept = append(kept, l)
	}
	b.listeners = kept
	b.mu.Unlock()

	b.logger.WithField("path", path).Info("path denied")
	b.dispatch(deliveries)
}

// Allow lifts a Deny on path.
func (b *Backend) Allow(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.denied, path)
}

func (b *Backend) mutate(path string, values map[string]any) *future.Future[struct{}] {
	normalized := make(map[string]any, len(values))
	for rel, v := range values {
		n, err := remote.Normalize(v)
		if err != nil {
			return future.Rejected[struct{}](fmt.Errorf("memory: %s: %w", remote.JoinPath(path, rel), err))
		}
		normalized[remote.JoinPath(path, rel)] = n
	}

	b.mu.Lock()
	for target := range normalized {
		if err := b.deniedLocked(target); err != nil {
			b.mu.Unlock()
			return future.Rejected[struct{}](err)
		}
	}
	for target, v := range normalized {
		b.root = remote.Put(b.root, target, v)
	}

	var deliveries []func()
	for _, l := range b.listeners {
		if !affects(normalized, l.Spec.Path) {
			continue
		}
		deliveries = append(deliveries, l.Refresh(b.snapshotLocked(l.Spec.Path))...)
	}
	b.mu.Unlock()

	b.dispatch(deliveries)
	return future.Resolved(struct{}{})
}

func (b *Backend) dispatch(deliveries []func()) {
	for _, d := range deliveries {
		b.dispatcher.Dispatch(d)
	}
}

func (b *Backend) removeListener(target *remote.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l == target {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *Backend) snapshotLocked(path string) remote.Snapshot {
	return remote.Snapshot{Key: remote.BaseName(path), Value: remote.Lookup(b.root, path)}
}

func (b *Backend) deniedLocked(path string) error {
	for denied, err := range b.denied {
		if remote.IsAncestor(denied, path) {
			return err
		}
	}
	return nil
}

// affects reports whether a write to any of the paths can change what a
// listener on listenPath sees.
func affects(writes map[string]any, listenPath string) bool {
	for p := range writes {
		if remote.Overlaps(p, listenPath) {
			return true
		}
	}
	return false
}

