package collection

import "github.com/jacentio/trellis/remote"

// Entry is one child of the mirrored collection.
type Entry struct {
	Key   string
	Value any
}

// Decode copies the entry value into out, which must be a pointer.
func (e Entry) Decode(out any) error {
	return remote.Decode(e.Value, out)
}

// Snapshot is a detached copy of a synchronizer's state. Err is the last
// query error; Collection is then the last good sequence.
type Snapshot struct {
	Collection []Entry
	Err        error
}

// Keys returns the keys of the collection in order.
func (s Snapshot) Keys() []string {
	keys := make([]string, len(s.Collection))
	for i, e := range s.Collection {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of entries.
func (s Snapshot) Len() int {
	return len(s.Collection)
}

func copyEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Key: e.Key, Value: remote.Clone(e.Value)}
	}
	return out
}

func indexOf(entries []Entry, key string) int {
	for i, e := range entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// insertAdded places e after prevKey when prevKey names one of the first
// n-1 entries and appends it otherwise. An entry already holding the key
// is dropped first, so the new position wins.
func insertAdded(entries []Entry, e Entry, prevKey string) []Entry {
	if i := indexOf(entries, e.Key); i >= 0 {
		entries = append(entries[:i], entries[i+1:]...)
	}
	if prevKey != "" {
		if i := indexOf(entries, prevKey); i >= 0 && i < len(entries)-1 {
			return insertAt(entries, i+1, e)
		}
	}
	return append(entries, e)
}

// moveAfter rebuilds entries with e removed from its old position and
// placed right after prevKey. An empty or unknown prevKey puts it first.
func moveAfter(entries []Entry, e Entry, prevKey string) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	for _, x := range entries {
		if x.Key != e.Key {
			out = append(out, x)
		}
	}
	if i := indexOf(out, prevKey); prevKey != "" && i >= 0 {
		return insertAt(out, i+1, e)
	}
	return insertAt(out, 0, e)
}

func insertAt(entries []Entry, i int, e Entry) []Entry {
	entries = append(entries, Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}
