package entities

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Multimap maps keys to ordered lists of values, as used for HTTP headers and query parameters.
type Multimap map[string][]string

// EnsureMultimap normalizes a loosely shaped header-like value into a Multimap.
// Scalars become single-element lists, nil entries are dropped and every value is
// stringified. With lowercase set, keys are folded to lower case and values of keys
// that collide after folding are merged in key order. Anything other than an object
// yields an empty map.
func EnsureMultimap(v any, lowercase bool) Multimap {
	out := Multimap{}

	var obj map[string]any
	switch m := v.(type) {
	case map[string]any:
		obj = m
	case map[string][]string:
		obj = make(map[string]any, len(m))
		for k, vals := range m {
			obj[k] = vals
		}
	case Multimap:
		obj = make(map[string]any, len(m))
		for k, vals := range m {
			obj[k] = []string(vals)
		}
	case map[string]string:
		obj = make(map[string]any, len(m))
		for k, val := range m {
			obj[k] = val
		}
	default:
		return out
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := multimapValues(obj[key])
		if values == nil {
			continue
		}
		if lowercase {
			key = strings.ToLower(key)
		}
		out[key] = append(out[key], values...)
	}
	return out
}

// Add appends value under key.
func (m Multimap) Add(key, value string) {
	m[key] = append(m[key], value)
}

// Get returns the first value for key.
func (m Multimap) Get(key string) string {
	if vals := m[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func multimapValues(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string{}, val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(val)}
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
