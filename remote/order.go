package remote

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// value ranks, lowest sorts first.
const (
	rankNull = iota
	rankFalse
	rankTrue
	rankNumber
	rankString
	rankObject
)

// Compare orders two children under o. Ties are broken by key so the
// result is a total order over distinct keys.
func Compare(a, b Snapshot, o Order) int {
	var c int
	switch o.Kind {
	case OrderValue:
		c = compareValues(a.Value, b.Value)
	case OrderChild:
		c = compareValues(Lookup(a.Value, o.Child), Lookup(b.Value, o.Child))
	}
	if c != 0 {
		return c
	}
	return compareKeys(a.Key, b.Key)
}

// Sort orders children in place.
func Sort(children []Snapshot, o Order) {
	sort.SliceStable(children, func(i, j int) bool {
		return Compare(children[i], children[j], o) < 0
	})
}

// Window sorts children by the spec's order and applies its limit. The
// input slice is not modified.
func Window(children []Snapshot, spec Spec) []Snapshot {
	out := make([]Snapshot, len(children))
	copy(out, children)
	Sort(out, spec.Order)

	n := spec.Limit.N
	if spec.Limit.Edge == LimitNone || n >= len(out) {
		return out
	}
	if n < 0 {
		n = 0
	}
	if spec.Limit.Edge == LimitFirst {
		return out[:n]
	}
	return out[len(out)-n:]
}

// compareKeys puts 32-bit integer keys first, in numeric order, followed
// by all other keys in lexical order.
func compareKeys(a, b string) int {
	ia, aInt := intKey(a)
	ib, bInt := intKey(b)
	switch {
	case aInt && bInt:
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return strings.Compare(a, b)
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return strings.Compare(a, b)
}

func intKey(k string) (int64, bool) {
	n, err := strconv.ParseInt(k, 10, 64)
	if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false
	}
	// "01" and "+1" are strings, not integers.
	if strconv.FormatInt(n, 10) != k {
		return 0, false
	}
	return n, true
}

func rank(v any) int {
	switch t := v.(type) {
	case nil:
		return rankNull
	case bool:
		if t {
			return rankTrue
		}
		return rankFalse
	case string:
		return rankString
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankObject
}

func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	case rankString:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}
