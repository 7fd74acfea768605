// Package facts implements the per-file Almanac (spec.md §4.4/§9's "dynamic
// fact lookup on an almanac" redesign note): a lazy, memoized, priority-
// ordered fact graph that the rules engine host resolves fact names
// against while evaluating one file. Facts may call back into the almanac
// to read other facts, so resolution is re-entrant but not thread-safe --
// each file owns its own Almanac instance, matching spec.md §5's "the
// almanac is not thread-safe; each file owns its almanac".
package facts

import (
	"fmt"
	"sort"
)

// Producer computes a fact's value, optionally consulting other facts via
// the almanac passed to it (the lazy fact graph).
type Producer func(params map[string]any, alm *Almanac) (any, error)

// Fact is a named producer with a registration priority; higher priority
// facts are registered (and therefore, when multiple facts of the same
// name exist, take precedence) before lower ones.
type Fact struct {
	Name     string
	Priority int
	Produce  Producer
}

// Almanac is the per-file memoized fact store for a single evaluator run.
type Almanac struct {
	facts  map[string]Fact
	params map[string]map[string]any
	cache  map[string]any
	errs   map[string]error
	order  []string
}

// New creates an empty Almanac. Register facts with AddFact before
// resolving anything.
func New() *Almanac {
	return &Almanac{
		facts:  map[string]Fact{},
		params: map[string]map[string]any{},
		cache:  map[string]any{},
		errs:   map[string]error{},
	}
}

// AddFact registers a fact producer under name with the given params and
// priority. If a fact with this name is already registered, the higher
// priority one wins; ties keep the first registration, matching spec.md
// §9's Open Question resolution (priority ties keep registration order).
func (a *Almanac) AddFact(name string, priority int, params map[string]any, produce Producer) {
	existing, ok := a.facts[name]
	if ok && existing.Priority >= priority {
		return
	}
	a.facts[name] = Fact{Name: name, Priority: priority, Produce: produce}
	a.params[name] = params
	if !ok {
		a.order = append(a.order, name)
	}
	delete(a.cache, name)
	delete(a.errs, name)
}

// Names lists registered fact names, highest priority first, ties broken
// by registration order.
func (a *Almanac) Names() []string {
	names := make([]string, len(a.order))
	copy(names, a.order)
	sort.SliceStable(names, func(i, j int) bool {
		return a.facts[names[i]].Priority > a.facts[names[j]].Priority
	})
	return names
}

// Get resolves a fact by name, memoizing the result for the lifetime of
// this Almanac. A second call for the same name returns the cached value
// without re-invoking the producer. Per spec.md §4.4's allowUndefinedFacts
// semantics, an unregistered name returns (nil, false, nil) rather than an
// error -- the caller treats "undefined" as distinct from "errored".
func (a *Almanac) Get(name string) (any, bool, error) {
	if err, ok := a.errs[name]; ok {
		return nil, true, err
	}
	if v, ok := a.cache[name]; ok {
		return v, true, nil
	}
	fact, ok := a.facts[name]
	if !ok {
		return nil, false, nil
	}
	v, err := fact.Produce(a.params[name], a)
	if err != nil {
		a.errs[name] = err
		return nil, true, fmt.Errorf("fact %q: %w", name, err)
	}
	a.cache[name] = v
	return v, true, nil
}

// MustGet resolves a fact, returning its zero-value nil if undefined or
// erroring. Used by rule-condition evaluation, where an undefined fact
// must not abort the run (allowUndefinedFacts).
func (a *Almanac) MustGet(name string) any {
	v, _, _ := a.Get(name)
	return v
}
