package collection

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/remote"
)

// DefaultPageSize is the page size used when neither the call site nor the
// fallback configuration gives a limit.
const DefaultPageSize = 50

var (
	// ErrConfiguration is the base of every configuration error returned by New.
	ErrConfiguration = errors.New("collection: invalid configuration")

	ErrMissingPath       = fmt.Errorf("%w: a path is required", ErrConfiguration)
	ErrMissingSource     = fmt.Errorf("%w: a source is required", ErrConfiguration)
	ErrConflictingLimits = fmt.Errorf("%w: limit to first and limit to last are exclusive", ErrConfiguration)
	ErrConflictingOrder  = fmt.Errorf("%w: only one order may be given", ErrConfiguration)
	ErrInvalidLimit      = fmt.Errorf("%w: limits must be positive", ErrConfiguration)

	// ErrTerminated is returned by operations on an unmounted synchronizer.
	ErrTerminated = errors.New("collection: synchronizer terminated")
)

// Config describes the query a Synchronizer mirrors. Zero fields are
// unset; New fills them from a fallback configuration.
type Config struct {
	Source remote.Source
	Path   string

	OrderByKey   bool
	OrderByValue bool
	OrderByChild string

	LimitToLast  int
	LimitToFirst int

	// PageSize is how much ScrollMore grows the limit by.
	PageSize int

	Logger *logrus.Entry
}

func (c Config) order() (remote.Order, error) {
	var orders []remote.Order
	if c.OrderByKey {
		orders = append(orders, remote.Order{Kind: remote.OrderKey})
	}
	if c.OrderByValue {
		orders = append(orders, remote.Order{Kind: remote.OrderValue})
	}
	if c.OrderByChild != "" {
		orders = append(orders, remote.Order{Kind: remote.OrderChild, Child: c.OrderByChild})
	}
	switch len(orders) {
	case 0:
		return remote.Order{}, nil
	case 1:
		return orders[0], nil
	default:
		return remote.Order{}, ErrConflictingOrder
	}
}

func (c Config) limit() (remote.Limit, error) {
	if c.LimitToLast < 0 || c.LimitToFirst < 0 || c.PageSize < 0 {
		return remote.Limit{}, ErrInvalidLimit
	}
	switch {
	case c.LimitToLast > 0 && c.LimitToFirst > 0:
		return remote.Limit{}, ErrConflictingLimits
	case c.LimitToLast > 0:
		return remote.Limit{Edge: remote.LimitLast, N: c.LimitToLast}, nil
	case c.LimitToFirst > 0:
		return remote.Limit{Edge: remote.LimitFirst, N: c.LimitToFirst}, nil
	}
	return remote.Limit{}, nil
}

// settings is a validated, merged Config.
type settings struct {
	source   remote.Source
	path     string
	order    remote.Order
	limit    remote.Limit
	pageSize int
	logger   *logrus.Entry
}

// resolve merges cfg over fallback. Call-site values win field group by
// field group: an order or limit given in cfg replaces the fallback's.
func resolve(cfg, fallback Config) (settings, error) {
	var s settings

	s.source = cfg.Source
	if s.source == nil {
		s.source = fallback.Source
	}
	if s.source == nil {
		return s, ErrMissingSource
	}

	s.path = cfg.Path
	if s.path == "" {
		s.path = fallback.Path
	}
	if s.path == "" {
		return s, ErrMissingPath
	}
	clean, err := remote.CleanPath(s.path)
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	s.path = clean

	order, err := cfg.order()
	if err != nil {
		return s, err
	}
	fbOrder, err := fallback.order()
	if err != nil {
		return s, fmt.Errorf("fallback: %w", err)
	}
	s.order = order
	if s.order.Kind == remote.OrderNone {
		s.order = fbOrder
	}

	limit, err := cfg.limit()
	if err != nil {
		return s, err
	}
	fbLimit, err := fallback.limit()
	if err != nil {
		return s, fmt.Errorf("fallback: %w", err)
	}

	switch {
	case cfg.PageSize > 0:
		s.pageSize = cfg.PageSize
	case limit.N > 0:
		s.pageSize = limit.N
	case fbLimit.N > 0:
		s.pageSize = fbLimit.N
	case fallback.PageSize > 0:
		s.pageSize = fallback.PageSize
	default:
		s.pageSize = DefaultPageSize
	}

	s.limit = limit
	if s.limit.Edge == remote.LimitNone {
		s.limit = fbLimit
	}

	s.logger = cfg.Logger
	if s.logger == nil {
		s.logger = fallback.Logger
	}
	return s, nil
}
