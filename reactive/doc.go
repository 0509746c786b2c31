// Package reactive re-runs computations when the data they read changes.
//
// A [Computation] is a function that reads [Dependency] values through a
// [Tracker]. While it runs it sits on the tracker's pending stack, and every
// dependency read during that time records it as a listener. When a
// dependency changes it calls its listeners, which marks the computation
// dirty and queues it on its [Scheduler]. [Scheduler.Flush] re-runs dirty
// computations.
//
// Dependencies are rebuilt from scratch on every run: before a computation
// runs again, it is removed from every dependency it read last time.
package reactive

import "errors"

// ErrPending signals that a value a computation needs has not arrived
// yet. A computation returning an error wrapping it is waiting, not
// failing; it re-runs when the value arrives.
var ErrPending = errors.New("reactive: value pending")
