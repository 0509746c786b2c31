package store

import "sync"

// worker runs tasks one at a time on a background goroutine, in the order
// they were submitted. The goroutine exits when the queue drains.
type worker struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

func (w *worker) submit(fn func()) {
	w.mu.Lock()
	w.tasks = append(w.tasks, fn)
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()
	go w.run()
}

func (w *worker) run() {
	for {
		w.mu.Lock()
		if len(w.tasks) == 0 {
			w.running = false
			w.mu.Unlock()
			return
		}
		fn := w.tasks[0]
		w.tasks[0] = nil
		w.tasks = w.tasks[1:]
		w.mu.Unlock()
		fn()
	}
}
