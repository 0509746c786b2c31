package remote

import (
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Snapshot is the value of one node at the time an event was produced.
// A nil Value means the node does not exist.
type Snapshot struct {
	Key   string
	Value any
}

// Exists reports whether the node had a value.
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Val returns a deep copy of the value.
func (s Snapshot) Val() any {
	return Clone(s.Value)
}

// Child returns the snapshot of a nested field. path may contain slashes.
func (s Snapshot) Child(path string) Snapshot {
	return Snapshot{Key: BaseName(path), Value: Lookup(s.Value, path)}
}

// Children returns the direct children in key order. Scalars have none.
func (s Snapshot) Children() []Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	out := make([]Snapshot, 0, len(m))
	for k, v := range m {
		out = append(out, Snapshot{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return compareKeys(out[i].Key, out[j].Key) < 0 })
	return out
}

// Decode copies the value into out, which must be a pointer.
func (s Snapshot) Decode(out any) error {
	return Decode(s.Value, out)
}

// Decode converts a generic value into a typed destination. Field names are
// matched through `json` tags, falling back to case-insensitive names.
func Decode(value any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(Clone(value))
}

// Lookup walks a slash separated path through nested maps.
func Lookup(value any, path string) any {
	cur := value
	for _, part := range SplitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// Clone deep copies maps and slices. Scalars are immutable and returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Put returns root with value stored at path. Nil values delete, and maps
// left empty are pruned, so the result is nil when nothing remains. root
// may be modified in place.
func Put(root any, path string, value any) any {
	return putAt(root, SplitPath(path), value)
}

func putAt(node any, parts []string, value any) any {
	if len(parts) == 0 {
		return Clone(value)
	}
	m, ok := node.(map[string]any)
	if !ok {
		if value == nil {
			return node
		}
		m = make(map[string]any)
	}
	child := putAt(m[parts[0]], parts[1:], value)
	if child == nil {
		delete(m, parts[0])
	} else {
		m[parts[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Equal reports whether two values are deeply equal. Numbers compare by
// value regardless of their Go type.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch ta := a.(type) {
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, va := range ta {
			vb, ok := tb[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !Equal(ta[i], tb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Normalize converts typed Go values (structs, typed maps, integers) into
// the generic form used by snapshots: map[string]any, []any, float64,
// string, bool and nil.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			if n != nil {
				out[k] = n
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return Normalize(out)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return Normalize(out)
	case reflect.Struct:
		var out map[string]any
		if err := mapstructure.Decode(v, &out); err != nil {
			return nil, err
		}
		return Normalize(out)
	}
	return v, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
