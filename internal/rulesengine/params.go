package rulesengine

import (
	"reflect"
	"strings"
)

// navigatePath walks a dot-separated path into v, stopping (and
// returning nil) as soon as a segment can't be resolved. A segment
// resolves against a map[string]any by key, and against a struct (e.g.
// xfitypes.FileData, returned directly by the fileData fact rather than
// as a decoded map) by its json tag name, falling back to a
// case-insensitive field-name match.
func navigatePath(v any, path string) any {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := fieldValue(cur, seg)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func fieldValue(v any, seg string) (any, bool) {
	if m, ok := v.(map[string]any); ok {
		val, ok := m[seg]
		return val, ok
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := strings.Split(field.Tag.Get("json"), ",")[0]
		if tag == seg || strings.EqualFold(field.Name, seg) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// replaceFactsInEventParams implements spec.md §4.4's
// replaceFactsInEventParams: any {"fact": "name"} placeholder nested
// anywhere inside params is substituted with that fact's resolved value
// from alm.
func replaceFactsInEventParams(params map[string]any, alm factResolver) map[string]any {
	if params == nil {
		return nil
	}
	return substitute(params, alm).(map[string]any)
}

// factResolver is the minimal Almanac surface replaceFactsInEventParams
// needs, avoiding an import cycle with the almanac's own package.
type factResolver interface {
	MustGet(name string) any
}

func substitute(v any, alm factResolver) any {
	switch val := v.(type) {
	case map[string]any:
		if name, ok := factPlaceholder(val); ok {
			return alm.MustGet(name)
		}
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = substitute(child, alm)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = substitute(child, alm)
		}
		return out
	default:
		return v
	}
}

// factPlaceholder reports whether m is exactly {"fact": "<name>"}.
func factPlaceholder(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	name, ok := m["fact"]
	if !ok {
		return "", false
	}
	s, ok := name.(string)
	return s, ok
}
