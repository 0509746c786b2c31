package reactive

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/logging"
)

// Listener is notified when a dependency changes. A returned error is
// logged; it does not stop other listeners.
type Listener func() error

// Observers is an ordered set of listeners keyed by id.
type Observers struct {
	mu     sync.Mutex
	ids    []string
	fns    map[string]Listener
	logger *logrus.Entry
}

// NewObservers creates an empty set. A nil logger uses the "reactive"
// component logger.
func NewObservers(logger *logrus.Entry) *Observers {
	return &Observers{
		fns:    make(map[string]Listener),
		logger: logging.OrDefault(logger, "reactive"),
	}
}

// Add registers fn under id. Adding an existing id replaces its listener
// and keeps its position.
func (o *Observers) Add(id string, fn Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.fns[id]; !ok {
		o.ids = append(o.ids, id)
	}
	o.fns[id] = fn
}

// Remove unregisters id. Unknown ids are ignored.
func (o *Observers) Remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.fns[id]; !ok {
		return
	}
	delete(o.fns, id)
	for i, v := range o.ids {
		if v == id {
			o.ids = append(o.ids[:i], o.ids[i+1:]...)
			break
		}
	}
}

// Has reports whether id is registered.
func (o *Observers) Has(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.fns[id]
	return ok
}

// Len returns the number of listeners.
func (o *Observers) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ids)
}

// Clear removes every listener.
func (o *Observers) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ids = nil
	o.fns = make(map[string]Listener)
}

// Notify calls the listeners registered when it starts, in registration
// order. A listener removed during the round is skipped, so Clear stops
// the rest of it. Errors and panics are logged per listener. It returns
// the number of listeners that failed.
func (o *Observers) Notify() int {
	o.mu.Lock()
	ids := append([]string(nil), o.ids...)
	o.mu.Unlock()

	failed := 0
	for _, id := range ids {
		o.mu.Lock()
		fn, ok := o.fns[id]
		o.mu.Unlock()
		if !ok {
			continue
		}
		if err := invoke(fn); err != nil {
			failed++
			o.logger.WithError(err).WithField("listener", id).Error("listener failed")
		}
	}
	return failed
}

func invoke(fn Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
