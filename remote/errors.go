package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the remote refuses access to a path.
	ErrPermissionDenied = errors.New("remote: permission denied")

	// ErrInvalidPath is returned for paths with empty or illegal segments.
	ErrInvalidPath = errors.New("remote: invalid path")

	// ErrInvalidQuery is returned when a query cannot be served, such as a
	// limit below one.
	ErrInvalidQuery = errors.New("remote: invalid query")

	// ErrNotFound is returned when a mutation targets a missing node.
	ErrNotFound = errors.New("remote: node not found")
)

// QueryError reports a failure of a live subscription.
type QueryError struct {
	Path  string
	Event EventType
	Err   error
}

func (e *QueryError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("remote: query %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("remote: query %s (%s): %v", e.Path, e.Event, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
