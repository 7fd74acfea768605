package rulesengine

import "github.com/xfidelity/xfidelity/internal/xfitypes"

// ConditionKind distinguishes a boolean combinator node from a leaf
// predicate node in a rule's condition tree.
type ConditionKind int

const (
	// KindAll is a logical AND over its children (json-rules-engine's "all").
	KindAll ConditionKind = iota
	// KindAny is a logical OR over its children ("any").
	KindAny
	// KindPredicate is a leaf: fact[.path] operator value.
	KindPredicate
)

// Condition is one node of a rule's nested AND/OR condition tree over
// facts, using registered operators -- spec.md §3's Rule.conditions.
type Condition struct {
	Kind ConditionKind

	// Populated when Kind is KindAll or KindAny.
	Children []Condition

	// Populated when Kind is KindPredicate.
	Fact     string // fact name, resolved through the almanac
	Path     string // optional dot-path into the fact's value, e.g. "metrics.count"
	Operator string // registered operator name
	Value    any    // comparand
}

// Event describes what a fired rule reports: a severity level and a
// params payload that may contain {fact: "name"} placeholders resolved
// by replaceFactsInEventParams (spec.md §4.4).
type Event struct {
	Type   xfitypes.Level
	Params map[string]any
}

// ErrorBehavior controls how an exception inside rule evaluation is
// classified (spec.md §4.5): "fatal" escalates to fatality, "swallow"
// (the default) keeps it at its naturally classified level.
type ErrorBehavior string

const (
	ErrorBehaviorFatal    ErrorBehavior = "fatal"
	ErrorBehaviorSwallow  ErrorBehavior = "swallow"
	DefaultErrorBehavior                = ErrorBehaviorSwallow
)

// OnError names an action to run (for logging/telemetry side effects
// only) when a rule throws during evaluation.
type OnError struct {
	Action string
	Params map[string]any
}

// Rule is one archetype-declared conformance check.
type Rule struct {
	Name string

	// Priority orders rule firing within a Host: higher values run
	// first (spec.md §9's binding resolution). Rules sharing a priority
	// (including the zero value, the common case) fire in registration
	// order.
	Priority int

	Condition     Condition
	Event         Event
	ErrorBehavior ErrorBehavior
	OnError       *OnError
}

// Clone returns a deep-enough copy of r suitable for mutation (used by
// the exemption rewrite step, which clones a matched rule and changes its
// event type to "exempt" without touching the original).
func (r Rule) Clone() Rule {
	clone := r
	clone.Event.Params = cloneParams(r.Event.Params)
	if r.OnError != nil {
		onErr := *r.OnError
		onErr.Params = cloneParams(r.OnError.Params)
		clone.OnError = &onErr
	}
	return clone
}

func cloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RuleResult is the outcome of evaluating one compiled rule against one
// file's fact-value map (spec.md §4.4).
type RuleResult struct {
	Name   string
	Result bool
	Event  Event
}
