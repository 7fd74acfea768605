package location

import "strconv"

// asMap coerces v to a map[string]any, the shape every rung navigates
// through. JSON payloads decoded via encoding/json always produce
// map[string]interface{} for objects, so this covers every real input.
func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func field(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// dig walks a chain of map keys, returning the final value if every step
// along the way is present and is itself a map (except the last step).
func dig(m map[string]any, keys ...string) (any, bool) {
	cur := m
	for i, k := range keys {
		v, ok := cur[k]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		next, ok := asMap(v)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// toInt coerces a decoded JSON number (float64), an int, or a numeric
// string into an int, per spec.md §4.6's "coerce string numerics via
// integer parsing" validation step.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := field(m, key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func intFieldAny(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := intField(m, k); ok {
			return v, ok
		}
	}
	return 0, false
}
