package main

import (
	"errors"
	"fmt"

	"github.com/jacentio/trellis/collection"
	"github.com/jacentio/trellis/config"
	"github.com/jacentio/trellis/remote"
)

var errPathChanged = errors.New("path changed, restart to follow the new path")

// reconfigure applies the order and limits of next that differ from prev.
// Dropping a limit is not applied, the synchronizer keeps the one it has.
func reconfigure(s *collection.Synchronizer, prev, next *config.Defaults) error {
	if next.Path != "" && next.Path != prev.Path {
		return fmt.Errorf("%w: %q", errPathChanged, next.Path)
	}

	if next.OrderBy != prev.OrderBy {
		order, err := remote.ParseOrder(next.OrderBy)
		if err != nil {
			return err
		}
		if err := s.SetOrder(order); err != nil {
			return err
		}
	}

	switch {
	case next.LimitToLast > 0 && next.LimitToLast != prev.LimitToLast:
		return s.SetLimitToLast(next.LimitToLast)
	case next.LimitToFirst > 0 && next.LimitToFirst != prev.LimitToFirst:
		return s.SetLimitToFirst(next.LimitToFirst)
	}
	return nil
}
