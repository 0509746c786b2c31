package store

// Op is the kind of change a stream record describes.
type Op string

const (
	OpInsert Op = "INSERT"
	OpModify Op = "MODIFY"
	OpRemove Op = "REMOVE"
)

// Change is one node change observed outside this process, typically read
// from the table's stream.
type Change struct {
	Op   Op
	Path string

	// Value is the new value, nil for removals.
	Value any

	// Deleted is set when the change soft deleted the node, which is a
	// MODIFY that sets its TTL.
	Deleted bool

	// TTL is the soft delete time of a deleted node.
	TTL int64
}

// Removal reports whether the node is gone after the change.
func (c Change) Removal() bool {
	return c.Op == OpRemove || c.Deleted
}
