package keypath

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"world-sync/core/utils"
)

const (
	// Delimiter separates path segments in a flat key.
	Delimiter = "|"
	// NullSentinel is the flat value of a nil leaf.
	NullSentinel = "_NULL_"
	// MaxDepth bounds traversal so cyclic input fails instead of recursing forever.
	MaxDepth = 64
)

var (
	// ErrUnsupportedValue is returned for leaves without a canonical string encoding.
	ErrUnsupportedValue = errors.New("keypath: unsupported value")
	// ErrTooDeep is returned when a structure nests deeper than MaxDepth.
	ErrTooDeep = errors.New("keypath: structure too deep")
	// ErrInvalidKey is returned for mapping keys that contain the delimiter.
	ErrInvalidKey = errors.New("keypath: invalid key")
)

// Flat is a flattened change-set: path -> string-encoded scalar.
type Flat map[string]string

// Keys returns the keys of the change-set in lexicographic order.
func (f Flat) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type child struct {
	key   string
	value any
}

// Flatten turns a nested structure into a flat change-set.
// A scalar root has no paths and yields an empty change-set.
func Flatten(structure any) (Flat, error) {
	flat := Flat{}
	if err := flatten(structure, "", flat, 0); err != nil {
		return nil, err
	}
	return flat, nil
}

func flatten(node any, base string, flat Flat, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: at %q", ErrTooDeep, base)
	}

	children, ok, err := childrenOf(node)
	if err != nil {
		return fmt.Errorf("%w at %q", err, base)
	}
	if !ok {
		return nil
	}

	for _, c := range children {
		if strings.Contains(c.key, Delimiter) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, c.key, Delimiter)
		}
		key := c.key
		if base != "" {
			key = base + Delimiter + c.key
		}

		if isNil(c.value) {
			flat[key] = NullSentinel
			continue
		}
		if isContainer(c.value) {
			if err := flatten(c.value, key, flat, depth+1); err != nil {
				return err
			}
			continue
		}

		s, ok := utils.ScalarString(c.value)
		if !ok {
			return fmt.Errorf("%w: %T at %q", ErrUnsupportedValue, c.value, key)
		}
		flat[key] = s
	}
	return nil
}

// childrenOf lists the children of a mapping or sequence in a deterministic order.
// ok is false when node is not a container.
func childrenOf(node any) ([]child, bool, error) {
	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]child, 0, len(keys))
		for _, k := range keys {
			out = append(out, child{key: k, value: v[k]})
		}
		return out, true, nil
	case []any:
		out := make([]child, 0, len(v))
		for i, e := range v {
			out = append(out, child{key: strconv.Itoa(i), value: e})
		}
		return out, true, nil
	}

	if !isContainer(node) {
		return nil, false, nil
	}

	rv := reflect.ValueOf(node)
	switch rv.Kind() {
	case reflect.Map:
		out := make([]child, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, ok := mapKey(iter.Key())
			if !ok {
				return nil, false, fmt.Errorf("%w: map key type %s", ErrUnsupportedValue, iter.Key().Type())
			}
			out = append(out, child{key: k, value: iter.Value().Interface()})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
		return out, true, nil
	default:
		out := make([]child, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, child{key: strconv.Itoa(i), value: rv.Index(i).Interface()})
		}
		return out, true, nil
	}
}

func mapKey(k reflect.Value) (string, bool) {
	switch k.Kind() {
	case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return utils.ScalarString(k.Interface())
	default:
		return "", false
	}
}

// isContainer reports whether v is a mapping or a sequence. Byte slices are scalars.
func isContainer(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

// isNil reports untyped nil and nil maps, slices and pointers.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// Unflatten rebuilds a nested structure from a flat change-set.
//
// Keys are applied in lexicographic order. Intermediate nodes are created as maps and
// replace any scalar found on the way, so a parent written as a scalar is superseded by
// its descendants.
func Unflatten(flat Flat) map[string]any {
	update := map[string]any{}
	for _, k := range flat.Keys() {
		set(update, k, flat[k])
	}
	return update
}

func set(root map[string]any, path, value string) {
	parts := Split(path)
	node := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[p] = next
		}
		node = next
	}

	last := parts[len(parts)-1]
	if value == NullSentinel {
		node[last] = nil
	} else {
		node[last] = value
	}
}
