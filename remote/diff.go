package remote

import "sort"

// EventType names the kinds of notification a query emits.
type EventType string

const (
	EventValue        EventType = "value"
	EventChildAdded   EventType = "child_added"
	EventChildChanged EventType = "child_changed"
	EventChildRemoved EventType = "child_removed"
	EventChildMoved   EventType = "child_moved"
)

// ChildEvents lists the child event types in delivery order.
var ChildEvents = []EventType{EventChildRemoved, EventChildAdded, EventChildChanged, EventChildMoved}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventValue, EventChildAdded, EventChildChanged, EventChildRemoved, EventChildMoved:
		return true
	}
	return false
}

// Event is one child notification. PrevKey is the key of the child that
// precedes Snapshot in the new ordering, or "" when it comes first.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	PrevKey  string
}

// Diff computes the events that turn the ordered view old into new.
//
// Removals come first. The remaining events are emitted walking new in
// order, so every PrevKey refers to a child that is already in place when
// the event is applied with insert-after semantics. Children whose
// relative order survived (the longest increasing run of old positions)
// are never reported as moved.
func Diff(old, new []Snapshot) []Event {
	newIndex := make(map[string]int, len(new))
	for i, s := range new {
		newIndex[s.Key] = i
	}
	oldIndex := make(map[string]int, len(old))
	oldByKey := make(map[string]Snapshot, len(old))

	var events []Event
	pos := 0
	for _, s := range old {
		if _, ok := newIndex[s.Key]; !ok {
			events = append(events, Event{Type: EventChildRemoved, Snapshot: s})
			continue
		}
		oldIndex[s.Key] = pos
		oldByKey[s.Key] = s
		pos++
	}

	stable := stableKeys(new, oldIndex)

	for i, s := range new {
		prev := ""
		if i > 0 {
			prev = new[i-1].Key
		}
		before, existed := oldByKey[s.Key]
		if !existed {
			events = append(events, Event{Type: EventChildAdded, Snapshot: s, PrevKey: prev})
			continue
		}
		if !Equal(before.Value, s.Value) {
			events = append(events, Event{Type: EventChildChanged, Snapshot: s, PrevKey: prev})
		}
		if !stable[s.Key] {
			events = append(events, Event{Type: EventChildMoved, Snapshot: s, PrevKey: prev})
		}
	}
	return events
}

// stableKeys returns the keys of a longest subsequence of new whose old
// positions are increasing.
func stableKeys(new []Snapshot, oldIndex map[string]int) map[string]bool {
	var keys []string
	var seq []int
	for _, s := range new {
		if i, ok := oldIndex[s.Key]; ok {
			keys = append(keys, s.Key)
			seq = append(seq, i)
		}
	}

	// patience sorting with back pointers
	tails := []int{}
	prev := make([]int, len(seq))
	for i, v := range seq {
		j := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= v })
		if j > 0 {
			prev[i] = tails[j-1]
		} else {
			prev[i] = -1
		}
		if j == len(tails) {
			tails = append(tails, i)
		} else {
			tails[j] = i
		}
	}

	stable := make(map[string]bool, len(tails))
	if len(tails) == 0 {
		return stable
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		stable[keys[i]] = true
	}
	return stable
}

// Apply replays events onto view with insert-after semantics and returns
// the result. It is the reference consumer of Diff.
func Apply(view []Snapshot, events []Event) []Snapshot {
	out := make([]Snapshot, len(view))
	copy(out, view)

	indexOf := func(key string) int {
		for i, s := range out {
			if s.Key == key {
				return i
			}
		}
		return -1
	}
	insertAfter := func(s Snapshot, prev string) {
		at := 0
		if prev != "" {
			at = indexOf(prev) + 1
		}
		out = append(out, Snapshot{})
		copy(out[at+1:], out[at:])
		out[at] = s
	}

	for _, e := range events {
		switch e.Type {
		case EventChildAdded:
			insertAfter(e.Snapshot, e.PrevKey)
		case EventChildRemoved:
			if i := indexOf(e.Snapshot.Key); i >= 0 {
				out = append(out[:i], out[i+1:]...)
			}
		case EventChildChanged:
			if i := indexOf(e.Snapshot.Key); i >= 0 {
				out[i] = e.Snapshot
			}
		case EventChildMoved:
			if i := indexOf(e.Snapshot.Key); i >= 0 {
				out = append(out[:i], out[i+1:]...)
				insertAfter(e.Snapshot, e.PrevKey)
			}
		}
	}
	return out
}
