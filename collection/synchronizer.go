// Package collection mirrors the ordered children of a remote path.
//
// A Synchronizer subscribes to child events of a possibly ordered and
// limited query and rebuilds the sequence locally, in the order the remote
// announces through previous-key hints. Changing the query (ScrollMore,
// SetLimitToLast, SetLimitToFirst, SetOrder) detaches the old subscription,
// resets the sequence and subscribes again; events still in flight from the
// old subscription are dropped.
//
// Lifecycle:
//
//	Unmounted --Mount--> MountedUnsubscribed --attach--> MountedSubscribed
//	    any --Unmount--> Terminated
//
// Listeners are attached only while mounted. A query error detaches the
// subscription and leaves the synchronizer mounted but unsubscribed until
// the next Run.
package collection

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/logging"
	"github.com/jacentio/trellis/reactive"
	"github.com/jacentio/trellis/remote"
)

// State is the lifecycle state of a Synchronizer.
type State int

const (
	StateUnmounted State = iota
	StateMountedUnsubscribed
	StateMountedSubscribed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMountedUnsubscribed:
		return "mounted-unsubscribed"
	case StateMountedSubscribed:
		return "mounted-subscribed"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

func (s State) mounted() bool {
	return s == StateMountedUnsubscribed || s == StateMountedSubscribed
}

// Synchronizer keeps a local ordered copy of a remote collection.
type Synchronizer struct {
	source    remote.Source
	path      string
	logger    *logrus.Entry
	observers *reactive.Observers

	mu       sync.Mutex
	order    remote.Order
	limit    remote.Limit
	pageSize int
	state    State
	gen      uint64
	query    remote.Query
	subs     []remote.Subscription
	entries  []Entry
	err      error
}

// New validates cfg, filling unset fields from fallback, and builds the
// query. The synchronizer starts unmounted; call Mount to subscribe.
func New(cfg, fallback Config) (*Synchronizer, error) {
	set, err := resolve(cfg, fallback)
	if err != nil {
		return nil, err
	}
	s := &Synchronizer{
		source:   set.source,
		path:     set.path,
		order:    set.order,
		limit:    set.limit,
		pageSize: set.pageSize,
	}
	s.logger = logging.OrDefault(set.logger, "collection").WithField("path", set.path)
	s.observers = reactive.NewObservers(s.logger)

	if err := s.Run(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the mirrored path.
func (s *Synchronizer) Path() string {
	return s.path
}

// State returns the lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Query returns the active query.
func (s *Synchronizer) Query() remote.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query.Spec()
}

// PageSize returns how much ScrollMore grows the limit by.
func (s *Synchronizer) PageSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageSize
}

// Run re-establishes the subscription. The old subscription is turned off
// and the sequence and error are cleared before a new query is built; the
// new query is attached right away when mounted.
func (s *Synchronizer) Run() error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	old := s.detachLocked()
	s.entries = nil
	s.err = nil
	s.query = s.buildQuery()
	if s.state == StateMountedSubscribed {
		s.state = StateMountedUnsubscribed
	}
	gen, query, mounted := s.gen, s.query, s.state.mounted()
	s.mu.Unlock()

	for _, sub := range old {
		sub.Off()
	}
	s.logger.WithField("query", query.Spec().String()).Debug("query built")

	if mounted {
		s.attach(gen, query)
	}
	s.notify()
	return nil
}

// Mount moves an unmounted synchronizer to the mounted state and attaches
// its listeners. Mounting twice is a no-op.
func (s *Synchronizer) Mount() error {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return ErrTerminated
	case StateMountedUnsubscribed, StateMountedSubscribed:
		s.mu.Unlock()
		return nil
	}
	s.state = StateMountedUnsubscribed
	gen, query := s.gen, s.query
	s.mu.Unlock()

	s.attach(gen, query)
	return nil
}

// Unmount detaches every listener and terminates the synchronizer. It is
// idempotent. The last snapshot stays readable.
func (s *Synchronizer) Unmount() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	old := s.detachLocked()
	s.state = StateTerminated
	s.mu.Unlock()

	for _, sub := range old {
		sub.Off()
	}
	s.observers.Clear()
	s.logger.Debug("unmounted")
}

// ScrollMore grows the active limit by the page size and re-runs the
// query. Without a limit there is nothing more to load.
func (s *Synchronizer) ScrollMore() error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	if s.limit.Edge == remote.LimitNone {
		s.mu.Unlock()
		s.logger.Debug("scroll more without a limit ignored")
		return nil
	}
	s.limit.N += s.pageSize
	n := s.limit.N
	s.mu.Unlock()

	s.logger.WithField("limit", n).Debug("scrolling")
	return s.Run()
}

// SetLimitToLast limits the query to the last n children and re-runs it.
func (s *Synchronizer) SetLimitToLast(n int) error {
	return s.setLimit(remote.Limit{Edge: remote.LimitLast, N: n})
}

// SetLimitToFirst limits the query to the first n children and re-runs it.
func (s *Synchronizer) SetLimitToFirst(n int) error {
	return s.setLimit(remote.Limit{Edge: remote.LimitFirst, N: n})
}

func (s *Synchronizer) setLimit(l remote.Limit) error {
	if l.N <= 0 {
		return ErrInvalidLimit
	}
	s.mu.Lock()
	s.limit = l
	s.mu.Unlock()
	return s.Run()
}

// SetOrder changes the order of the query and re-runs it.
func (s *Synchronizer) SetOrder(o remote.Order) error {
	if o.Kind == remote.OrderChild && o.Child == "" {
		return ErrConflictingOrder
	}
	s.mu.Lock()
	s.order = o
	s.mu.Unlock()
	return s.Run()
}

// Snapshot returns a copy of the current sequence and error.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Collection: copyEntries(s.entries), Err: s.err}
}

// Collection returns the snapshot and registers the computations running
// on t as dependent on the synchronizer.
func (s *Synchronizer) Collection(t *reactive.Tracker) Snapshot {
	t.Depend(s)
	return s.Snapshot()
}

// Watch calls fn with a fresh snapshot after every change. The returned
// function stops the notifications.
func (s *Synchronizer) Watch(fn func(Snapshot)) (cancel func()) {
	id := "watch-" + uuid.NewString()
	s.AddListener(id, func() error {
		fn(s.Snapshot())
		return nil
	})
	return func() { s.RemoveListener(id) }
}

// AddListener implements reactive.Dependency.
func (s *Synchronizer) AddListener(id string, fn reactive.Listener) {
	if s.State() == StateTerminated {
		return
	}
	s.observers.Add(id, fn)
}

// RemoveListener implements reactive.Dependency.
func (s *Synchronizer) RemoveListener(id string) {
	s.observers.Remove(id)
}

func (s *Synchronizer) buildQuery() remote.Query {
	var q remote.Query = s.source.Ref(s.path)
	switch s.order.Kind {
	case remote.OrderKey:
		q = q.OrderByKey()
	case remote.OrderValue:
		q = q.OrderByValue()
	case remote.OrderChild:
		q = q.OrderByChild(s.order.Child)
	}
	switch s.limit.Edge {
	case remote.LimitLast:
		q = q.LimitToLast(s.limit.N)
	case remote.LimitFirst:
		q = q.LimitToFirst(s.limit.N)
	}
	return q
}

// detachLocked invalidates the current generation and hands back its
// subscriptions for the caller to turn off.
func (s *Synchronizer) detachLocked() []remote.Subscription {
	s.gen++
	old := s.subs
	s.subs = nil
	return old
}

// attach subscribes the handlers of generation gen. Subscriptions that
// come back after the generation moved on are turned off at once.
func (s *Synchronizer) attach(gen uint64, query remote.Query) {
	handlers := map[remote.EventType]remote.Callback{
		remote.EventChildRemoved: func(snap remote.Snapshot, _ string) { s.childRemoved(gen, snap) },
		remote.EventChildAdded:   func(snap remote.Snapshot, prev string) { s.childAdded(gen, snap, prev) },
		remote.EventChildChanged: func(snap remote.Snapshot, _ string) { s.childChanged(gen, snap) },
		remote.EventChildMoved:   func(snap remote.Snapshot, prev string) { s.childMoved(gen, snap, prev) },
	}
	onErr := func(err error) { s.queryError(gen, err) }

	var subs []remote.Subscription
	for _, event := range remote.ChildEvents {
		subs = append(subs, query.On(event, handlers[event], onErr))
		if !s.current(gen) {
			break
		}
	}

	s.mu.Lock()
	if gen != s.gen || !s.state.mounted() || s.err != nil {
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Off()
		}
		return
	}
	s.subs = subs
	s.state = StateMountedSubscribed
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"query":      query.Spec().String(),
		"generation": gen,
	}).Debug("listeners attached")
}

// current reports whether gen is live and has not failed.
func (s *Synchronizer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.err == nil
}

// apply runs fn on the entries if gen is still live and notifies
// listeners when fn reports a change.
func (s *Synchronizer) apply(gen uint64, fn func([]Entry) ([]Entry, bool)) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	entries, changed := fn(s.entries)
	s.entries = entries
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Synchronizer) childAdded(gen uint64, snap remote.Snapshot, prevKey string) {
	s.apply(gen, func(entries []Entry) ([]Entry, bool) {
		return insertAdded(entries, Entry{Key: snap.Key, Value: snap.Value}, prevKey), true
	})
}

func (s *Synchronizer) childChanged(gen uint64, snap remote.Snapshot) {
	s.apply(gen, func(entries []Entry) ([]Entry, bool) {
		i := indexOf(entries, snap.Key)
		if i < 0 {
			return entries, false
		}
		entries[i].Value = snap.Value
		return entries, true
	})
}

func (s *Synchronizer) childRemoved(gen uint64, snap remote.Snapshot) {
	s.apply(gen, func(entries []Entry) ([]Entry, bool) {
		i := indexOf(entries, snap.Key)
		if i < 0 {
			return entries, false
		}
		return append(entries[:i], entries[i+1:]...), true
	})
}

func (s *Synchronizer) childMoved(gen uint64, snap remote.Snapshot, prevKey string) {
	s.apply(gen, func(entries []Entry) ([]Entry, bool) {
		return moveAfter(entries, Entry{Key: snap.Key, Value: snap.Value}, prevKey), true
	})
}

// queryError records the first error of a generation and detaches it. The
// entries are kept.
func (s *Synchronizer) queryError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateTerminated || s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	old := s.detachLocked()
	if s.state == StateMountedSubscribed {
		s.state = StateMountedUnsubscribed
	}
	s.mu.Unlock()

	for _, sub := range old {
		sub.Off()
	}
	s.logger.WithError(err).Warn("query failed")
	s.notify()
}

func (s *Synchronizer) notify() {
	if failed := s.observers.Notify(); failed > 0 {
		s.logger.WithField("failed", failed).Warn("some listeners failed")
	}
}
