package remote

// Listener tracks what one subscription has already been told, so a
// backend only has to hand it the current value of the path after each
// change. It is not safe for concurrent use; backends serialize access.
type Listener struct {
	Spec  Spec
	Event EventType
	Token *Token

	cb     Callback
	errCb  ErrorCallback
	view   []Snapshot
	value  any
	primed bool
}

// NewListener creates a listener whose token runs onOff when turned off.
func NewListener(spec Spec, event EventType, cb Callback, errCb ErrorCallback, onOff func()) *Listener {
	return &Listener{
		Spec:  spec,
		Event: event,
		Token: NewToken(onOff),
		cb:    cb,
		errCb: errCb,
	}
}

// Refresh records the current value at the listener's path and returns
// the deliveries it owes. Deliveries are guarded by the token and carry
// copies of the values.
func (l *Listener) Refresh(current Snapshot) []func() {
	window := Window(current.Children(), l.Spec)

	if l.Event == EventValue {
		value := current.Value
		if l.Spec.Bounded() || l.Spec.Order.Kind != OrderNone {
			value = windowValue(window)
		}
		if l.primed && Equal(l.value, value) {
			return nil
		}
		l.primed = true
		l.value = Clone(value)
		snap := Snapshot{Key: BaseName(l.Spec.Path), Value: Clone(value)}
		return []func(){l.Token.Guard(func() { l.cb(snap, "") })}
	}

	events := Diff(l.view, window)
	l.view = cloneView(window)
	l.primed = true

	var out []func()
	for _, e := range events {
		if e.Type != l.Event {
			continue
		}
		snap := Snapshot{Key: e.Snapshot.Key, Value: Clone(e.Snapshot.Value)}
		prev := e.PrevKey
		out = append(out, l.Token.Guard(func() { l.cb(snap, prev) }))
	}
	return out
}

// Fail returns the delivery of err to the error callback. The token is
// turned off before the callback runs.
func (l *Listener) Fail(err error) func() {
	qerr := &QueryError{Path: l.Spec.Path, Event: l.Event, Err: err}
	return l.Token.Guard(func() {
		l.Token.Off()
		if l.errCb != nil {
			l.errCb(qerr)
		}
	})
}

// Primed reports whether Refresh has run at least once.
func (l *Listener) Primed() bool {
	return l.primed
}

// cloneView detaches a window from the backend's storage, which may be
// mutated in place after Refresh returns.
func cloneView(window []Snapshot) []Snapshot {
	out := make([]Snapshot, len(window))
	for i, s := range window {
		out[i] = Snapshot{Key: s.Key, Value: Clone(s.Value)}
	}
	return out
}

// Windowed restricts snap to the children selected by spec when spec is
// ordered or limited. Other snapshots are returned unchanged.
func Windowed(snap Snapshot, spec Spec) Snapshot {
	if !spec.Bounded() && spec.Order.Kind == OrderNone {
		return snap
	}
	return Snapshot{Key: snap.Key, Value: windowValue(Window(snap.Children(), spec))}
}

func windowValue(window []Snapshot) any {
	if len(window) == 0 {
		return nil
	}
	m := make(map[string]any, len(window))
	for _, s := range window {
		m[s.Key] = s.Value
	}
	return m
}
