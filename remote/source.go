package remote

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jacentio/trellis/future"
)

// Callback receives an event. prevKey is "" for value events and for
// children that come first in the query order.
type Callback func(snap Snapshot, prevKey string)

// ErrorCallback receives subscription failures. A subscription that
// reported an error is cancelled and delivers nothing further.
type ErrorCallback func(err error)

// Subscription is the token returned by Query.On.
type Subscription interface {
	// ID identifies the subscription in logs.
	ID() string

	// Off stops the callback. It is idempotent, and once it returns no
	// further callback of this subscription runs, queued ones included.
	Off()

	// Active reports whether Off has not been called yet.
	Active() bool
}

// Token is the Subscription implementation shared by backends.
type Token struct {
	id     string
	active atomic.Bool
	once   sync.Once
	onOff  func()
}

// NewToken returns an active token. onOff runs once when it is turned off.
func NewToken(onOff func()) *Token {
	t := &Token{id: uuid.NewString(), onOff: onOff}
	t.active.Store(true)
	return t
}

func (t *Token) ID() string { return t.id }

func (t *Token) Active() bool { return t.active.Load() }

func (t *Token) Off() {
	t.once.Do(func() {
		t.active.Store(false)
		if t.onOff != nil {
			t.onOff()
		}
	})
}

// Guard wraps fn so it only runs while the token is active. Backends wrap
// every delivery with it at dispatch time.
func (t *Token) Guard(fn func()) func() {
	return func() {
		if t.Active() {
			fn()
		}
	}
}

// Backend is implemented by storage engines. Paths passed to a backend
// are already clean.
type Backend interface {
	// Listen delivers events of one type for spec through cb.
	Listen(spec Spec, event EventType, cb Callback, errCb ErrorCallback) Subscription

	// Read returns the value at spec once, windowed by its order and limit.
	Read(spec Spec) *future.Future[Snapshot]

	Set(path string, value any) *future.Future[struct{}]
	Update(path string, values map[string]any) *future.Future[struct{}]

	// Push adds a child with a generated, chronologically sortable key and
	// resolves with that key.
	Push(path string, value any) *future.Future[string]

	Remove(path string) *future.Future[struct{}]
}

// Query is a possibly ordered and limited view of the children of a path.
// Builder methods return new queries and never modify the receiver; a
// later call replaces an earlier one of the same kind.
type Query interface {
	Spec() Spec
	Path() string

	OrderByKey() Query
	OrderByValue() Query
	OrderByChild(name string) Query
	LimitToFirst(n int) Query
	LimitToLast(n int) Query

	// On subscribes cb to events of the given type.
	On(event EventType, cb Callback, errCb ErrorCallback) Subscription

	// Get reads the current value once.
	Get() *future.Future[Snapshot]

	// Once reads the current value and waits for it.
	Once(ctx context.Context) (Snapshot, error)
}

// Ref is a handle on a single path.
type Ref interface {
	Query

	Key() string
	Child(path string) Ref
	Parent() Ref

	Set(value any) *future.Future[struct{}]
	Update(values map[string]any) *future.Future[struct{}]
	Push(value any) *future.Future[string]
	Remove() *future.Future[struct{}]
}

// Source hands out refs.
type Source interface {
	Ref(path string) Ref
}

// NewSource returns a Source backed by b.
func NewSource(b Backend) Source {
	return &source{backend: b}
}

type source struct {
	backend Backend
}

func (s *source) Ref(path string) Ref {
	clean, err := CleanPath(path)
	return &ref{backend: s.backend, spec: Spec{Path: clean}, err: err}
}

// ref implements both Ref and Query. A ref built from an invalid path
// fails every operation with the path error.
type ref struct {
	backend Backend
	spec    Spec
	err     error
}

func (r *ref) Spec() Spec   { return r.spec }
func (r *ref) Path() string { return r.spec.Path }
func (r *ref) Key() string  { return BaseName(r.spec.Path) }

func (r *ref) with(spec Spec) *ref {
	return &ref{backend: r.backend, spec: spec, err: r.err}
}

func (r *ref) OrderByKey() Query {
	return r.with(r.spec.WithOrder(Order{Kind: OrderKey}))
}

func (r *ref) OrderByValue() Query {
	return r.with(r.spec.WithOrder(Order{Kind: OrderValue}))
}

func (r *ref) OrderByChild(name string) Query {
	return r.with(r.spec.WithOrder(Order{Kind: OrderChild, Child: JoinPath(name)}))
}

func (r *ref) LimitToFirst(n int) Query {
	return r.with(r.spec.WithLimit(Limit{Edge: LimitFirst, N: n}))
}

func (r *ref) LimitToLast(n int) Query {
	return r.with(r.spec.WithLimit(Limit{Edge: LimitLast, N: n}))
}

func (r *ref) Child(path string) Ref {
	clean, err := CleanPath(JoinPath(r.spec.Path, path))
	if err == nil {
		err = r.err
	}
	return &ref{backend: r.backend, spec: Spec{Path: clean}, err: err}
}

func (r *ref) Parent() Ref {
	return &ref{backend: r.backend, spec: Spec{Path: ParentPath(r.spec.Path)}, err: r.err}
}

func (r *ref) check(event EventType) error {
	if r.err != nil {
		return r.err
	}
	if event != "" && !event.Valid() {
		return ErrInvalidQuery
	}
	return r.spec.Validate()
}

func (r *ref) On(event EventType, cb Callback, errCb ErrorCallback) Subscription {
	if err := r.check(event); err != nil {
		tok := NewToken(nil)
		if errCb != nil {
			errCb(&QueryError{Path: r.spec.Path, Event: event, Err: err})
		}
		tok.Off()
		return tok
	}
	return r.backend.Listen(r.spec, event, cb, errCb)
}

func (r *ref) Get() *future.Future[Snapshot] {
	if err := r.check(""); err != nil {
		return future.Rejected[Snapshot](err)
	}
	return r.backend.Read(r.spec)
}

func (r *ref) Once(ctx context.Context) (Snapshot, error) {
	return r.Get().Await(ctx)
}

func (r *ref) Set(value any) *future.Future[struct{}] {
	if r.err != nil {
		return future.Rejected[struct{}](r.err)
	}
	return r.backend.Set(r.spec.Path, value)
}

func (r *ref) Update(values map[string]any) *future.Future[struct{}] {
	if r.err != nil {
		return future.Rejected[struct{}](r.err)
	}
	return r.backend.Update(r.spec.Path, values)
}

func (r *ref) Push(value any) *future.Future[string] {
	if r.err != nil {
		return future.Rejected[string](r.err)
	}
	return r.backend.Push(r.spec.Path, value)
}

func (r *ref) Remove() *future.Future[struct{}] {
	if r.err != nil {
		return future.Rejected[struct{}](r.err)
	}
	return r.backend.Remove(r.spec.Path)
}
