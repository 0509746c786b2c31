// Package future provides single-resolution deferred results.
//
// A Future is resolved at most once, either with a value or an error. Later
// attempts to resolve it are ignored. Consumers can block on it with Await,
// poll it with Result, or register callbacks with Then; callbacks never
// block the resolver beyond their own execution.
package future

import (
	"context"
	"sync"
)

// Future is a value that becomes available at some later point.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)
}

// New creates an unresolved Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already resolved with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a Future already failed with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve completes the future with v. It reports whether this call
// resolved the future; only the first resolution counts.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with err.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.complete(zero, err)
}

// Complete resolves or rejects depending on err.
func (f *Future[T]) Complete(v T, err error) bool {
	return f.complete(v, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done returns a channel closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without blocking. ok is false while the
// future is still pending.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		return v, nil, false
	}
	return f.value, f.err, true
}

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to run once the future resolves. If it already has,
// fn runs immediately on the calling goroutine.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Map derives a future whose value is fn applied to the value of f.
// Errors pass through untouched.
func Map[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	out := New[U]()
	f.Then(func(v T, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(fn(v))
	})
	return out
}

// Discard converts f into a completion future that only carries the error.
func Discard[T any](f *Future[T]) *Future[struct{}] {
	return Map(f, func(T) struct{} { return struct{}{} })
}
