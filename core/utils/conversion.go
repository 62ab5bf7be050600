package utils

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// ScalarString converts a scalar value to its canonical string encoding.
// It handles strings, booleans, integers, floats, json.Number and byte slices,
// including named types built on them. The second return value is false for
// anything without a canonical encoding (maps, slices, structs, funcs, channels, complex numbers).
func ScalarString(val any) (string, bool) {
	switch v := val.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true
	default:
		return "", false
	}
}

// ParseIndex parses a non-negative base-10 integer such as a piece identifier.
func ParseIndex(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty index")
	}
	// Reject "+1", " 1" and similar forms Atoi would otherwise accept or that
	// would not round-trip to the same key.
	if s[0] < '0' || s[0] > '9' {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, fmt.Errorf("invalid index %q: leading zero", s)
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q: %w", s, err)
	}
	return i, nil
}
