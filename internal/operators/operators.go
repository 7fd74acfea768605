// Package operators holds x-fidelity's baseline named binary predicates:
// functions of (factValue, compareValue) -> bool that a rule condition can
// reference by name. Custom operators registered by an archetype or a
// remote rule set are wired in as CEL functions by internal/rulesengine;
// this package only supplies the built-ins every archetype gets for free.
package operators

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is a named binary predicate evaluated against a fact value and
// the rule condition's comparison value.
type Operator func(factValue, compareValue any) (bool, error)

// Registry is a lookup table from operator name to implementation.
type Registry struct {
	operators map[string]Operator
}

// NewRegistry returns a Registry pre-populated with the built-in operators.
func NewRegistry() *Registry {
	r := &Registry{operators: map[string]Operator{}}
	for name, op := range builtins {
		r.operators[name] = op
	}
	return r
}

// Register adds or overrides an operator by name. Archetype-declared custom
// operators call this to extend the baseline set.
func (r *Registry) Register(name string, op Operator) {
	r.operators[name] = op
}

// Get returns the operator registered under name.
func (r *Registry) Get(name string) (Operator, bool) {
	op, ok := r.operators[name]
	return op, ok
}

// Names lists every registered operator name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.operators))
	for name := range r.operators {
		names = append(names, name)
	}
	return names
}

var builtins = map[string]Operator{
	"equals":       equals,
	"notEquals":    notEquals,
	"contains":     contains,
	"greaterThan":  greaterThan,
	"lessThan":     lessThan,
	"regexMatch":   regexMatch,
	"hasMinVersion": hasMinVersion,
}

func equals(factValue, compareValue any) (bool, error) {
	return fmt.Sprint(factValue) == fmt.Sprint(compareValue), nil
}

func notEquals(factValue, compareValue any) (bool, error) {
	eq, err := equals(factValue, compareValue)
	return !eq, err
}

func contains(factValue, compareValue any) (bool, error) {
	haystack, ok := factValue.(string)
	if !ok {
		return false, fmt.Errorf("contains: fact value %T is not a string", factValue)
	}
	needle, ok := compareValue.(string)
	if !ok {
		return false, fmt.Errorf("contains: compare value %T is not a string", compareValue)
	}
	return strings.Contains(haystack, needle), nil
}

func greaterThan(factValue, compareValue any) (bool, error) {
	a, err := toFloat(factValue)
	if err != nil {
		return false, fmt.Errorf("greaterThan: %w", err)
	}
	b, err := toFloat(compareValue)
	if err != nil {
		return false, fmt.Errorf("greaterThan: %w", err)
	}
	return a > b, nil
}

func lessThan(factValue, compareValue any) (bool, error) {
	a, err := toFloat(factValue)
	if err != nil {
		return false, fmt.Errorf("lessThan: %w", err)
	}
	b, err := toFloat(compareValue)
	if err != nil {
		return false, fmt.Errorf("lessThan: %w", err)
	}
	return a < b, nil
}

func regexMatch(factValue, compareValue any) (bool, error) {
	subject, ok := factValue.(string)
	if !ok {
		return false, fmt.Errorf("regexMatch: fact value %T is not a string", factValue)
	}
	pattern, ok := compareValue.(string)
	if !ok {
		return false, fmt.Errorf("regexMatch: compare value %T is not a string", compareValue)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("regexMatch: invalid pattern %q: %w", pattern, err)
	}
	return re.MatchString(subject), nil
}

// hasMinVersion reports whether factValue (a semver-ish "x.y.z" string)
// is >= compareValue, comparing dotted numeric segments left to right.
func hasMinVersion(factValue, compareValue any) (bool, error) {
	actual, ok := factValue.(string)
	if !ok {
		return false, fmt.Errorf("hasMinVersion: fact value %T is not a string", factValue)
	}
	minimum, ok := compareValue.(string)
	if !ok {
		return false, fmt.Errorf("hasMinVersion: compare value %T is not a string", compareValue)
	}
	cmp, err := CompareVersions(actual, minimum)
	if err != nil {
		return false, fmt.Errorf("hasMinVersion: %w", err)
	}
	return cmp >= 0, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

// CompareVersions compares two dotted-numeric version strings, stripping a
// leading "^"/"~"/">=" caret/tilde/range prefix as package manifests often
// carry one. Returns -1, 0, or 1. Exported so other packages (e.g. the
// repoDependencyAnalysis aggregate fact) can reuse the same comparison
// hasMinVersion uses, without duplicating it.
func CompareVersions(a, b string) (int, error) {
	a = strings.TrimLeft(a, "^~=> ")
	b = strings.TrimLeft(b, "^~=> ")

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			n, err := strconv.Atoi(strings.TrimSpace(as[i]))
			if err != nil {
				return 0, fmt.Errorf("invalid version segment %q in %q", as[i], a)
			}
			av = n
		}
		if i < len(bs) {
			n, err := strconv.Atoi(strings.TrimSpace(bs[i]))
			if err != nil {
				return 0, fmt.Errorf("invalid version segment %q in %q", bs[i], b)
			}
			bv = n
		}
		if av != bv {
			if av > bv {
				return 1, nil
			}
			return -1, nil
		}
	}
	return 0, nil
}
