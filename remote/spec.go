package remote

import (
	"fmt"
	"strings"
)

// OrderKind selects how the children of a query are ordered.
type OrderKind int

const (
	// OrderNone falls back to key order.
	OrderNone OrderKind = iota
	OrderKey
	OrderValue
	OrderChild
)

// Order is the ordering of a query. Child names the field compared when
// Kind is OrderChild; it may be a nested path such as "meta/rank".
type Order struct {
	Kind  OrderKind
	Child string
}

func (o Order) String() string {
	switch o.Kind {
	case OrderKey:
		return "key"
	case OrderValue:
		return "value"
	case OrderChild:
		return "child:" + o.Child
	default:
		return "none"
	}
}

// ParseOrder parses the textual form produced by Order.String.
func ParseOrder(s string) (Order, error) {
	switch {
	case s == "" || s == "none":
		return Order{}, nil
	case s == "key":
		return Order{Kind: OrderKey}, nil
	case s == "value":
		return Order{Kind: OrderValue}, nil
	case strings.HasPrefix(s, "child:") && len(s) > len("child:"):
		return Order{Kind: OrderChild, Child: strings.TrimPrefix(s, "child:")}, nil
	}
	return Order{}, fmt.Errorf("%w: unknown order %q", ErrInvalidQuery, s)
}

// Edge is the side of the ordered children a limit keeps.
type Edge int

const (
	LimitNone Edge = iota
	LimitFirst
	LimitLast
)

// Limit bounds a query to the first or last N children.
type Limit struct {
	Edge Edge
	N    int
}

func (l Limit) String() string {
	switch l.Edge {
	case LimitFirst:
		return fmt.Sprintf("first(%d)", l.N)
	case LimitLast:
		return fmt.Sprintf("last(%d)", l.N)
	default:
		return "none"
	}
}

// Spec describes a query: a path plus optional ordering and limit. Specs
// are values; the builder methods return modified copies.
type Spec struct {
	Path  string
	Order Order
	Limit Limit
}

// WithOrder returns a copy of s ordered by o.
func (s Spec) WithOrder(o Order) Spec {
	s.Order = o
	return s
}

// WithLimit returns a copy of s bounded by l.
func (s Spec) WithLimit(l Limit) Spec {
	s.Limit = l
	return s
}

// Validate checks that the spec can be served.
func (s Spec) Validate() error {
	if s.Limit.Edge != LimitNone && s.Limit.N < 1 {
		return fmt.Errorf("%w: limit must be at least 1, got %d", ErrInvalidQuery, s.Limit.N)
	}
	if s.Order.Kind == OrderChild && s.Order.Child == "" {
		return fmt.Errorf("%w: order by child needs a child name", ErrInvalidQuery)
	}
	return nil
}

// Bounded reports whether the query is limited.
func (s Spec) Bounded() bool {
	return s.Limit.Edge != LimitNone
}

func (s Spec) String() string {
	var b strings.Builder
	b.WriteString("/" + s.Path)
	var params []string
	if s.Order.Kind != OrderNone {
		params = append(params, "orderBy="+s.Order.String())
	}
	if s.Limit.Edge != LimitNone {
		params = append(params, "limit="+s.Limit.String())
	}
	if len(params) > 0 {
		b.WriteString("?" + strings.Join(params, "&"))
	}
	return b.String()
}
