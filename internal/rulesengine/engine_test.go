package rulesengine

import (
	"testing"

	"github.com/xfidelity/xfidelity/internal/facts"
	"github.com/xfidelity/xfidelity/internal/operators"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := NewHost(operators.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	return h
}

func almWithFileName(name string) *facts.Almanac {
	alm := facts.New()
	alm.AddFact("fileData", 1, nil, func(_ map[string]any, _ *facts.Almanac) (any, error) {
		return map[string]any{"fileName": name}, nil
	})
	return alm
}

func TestSinglePredicateRuleFires(t *testing.T) {
	h := newTestHost(t)
	rule := Rule{
		Name: "noIndexJs",
		Condition: Condition{
			Kind: KindPredicate, Fact: "fileData", Path: "fileName",
			Operator: "equals", Value: "index.js",
		},
		Event: Event{Type: xfitypes.LevelWarning, Params: map[string]any{"message": "found index.js"}},
	}
	if err := h.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	results, err := h.Run(almWithFileName("index.js"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 || !results[0].Result {
		t.Fatalf("expected rule to fire, got %+v", results)
	}
}

func TestRuleDoesNotFireOnMismatch(t *testing.T) {
	h := newTestHost(t)
	rule := Rule{
		Name:      "noIndexJs",
		Condition: Condition{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "equals", Value: "index.js"},
		Event:     Event{Type: xfitypes.LevelWarning},
	}
	h.AddRule(rule)

	results, _ := h.Run(almWithFileName("app.js"))
	if results[0].Result {
		t.Fatalf("expected rule not to fire for app.js")
	}
}

func TestAndCombinatorRequiresBothPredicates(t *testing.T) {
	h := newTestHost(t)
	rule := Rule{
		Name: "combo",
		Condition: Condition{
			Kind: KindAll,
			Children: []Condition{
				{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "contains", Value: "index"},
				{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "contains", Value: ".js"},
			},
		},
		Event: Event{Type: xfitypes.LevelError},
	}
	h.AddRule(rule)

	fires, _ := h.Run(almWithFileName("index.js"))
	if !fires[0].Result {
		t.Fatal("expected AND rule to fire when both predicates match")
	}

	misses, _ := h.Run(almWithFileName("index.ts"))
	if misses[0].Result {
		t.Fatal("expected AND rule not to fire when only one predicate matches")
	}
}

func TestOrCombinatorFiresOnEitherPredicate(t *testing.T) {
	h := newTestHost(t)
	rule := Rule{
		Name: "either",
		Condition: Condition{
			Kind: KindAny,
			Children: []Condition{
				{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "equals", Value: "a.js"},
				{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "equals", Value: "b.js"},
			},
		},
		Event: Event{Type: xfitypes.LevelWarning},
	}
	h.AddRule(rule)

	results, _ := h.Run(almWithFileName("b.js"))
	if !results[0].Result {
		t.Fatal("expected OR rule to fire on second predicate match")
	}
}

func TestUndefinedFactDoesNotAbortRun(t *testing.T) {
	h := newTestHost(t)
	rule := Rule{
		Name:      "usesMissingFact",
		Condition: Condition{Kind: KindPredicate, Fact: "nonexistentFact", Operator: "equals", Value: "x"},
		Event:     Event{Type: xfitypes.LevelWarning},
	}
	h.AddRule(rule)

	results, err := h.Run(facts.New())
	if err != nil {
		t.Fatalf("expected undefined fact to resolve to nil without error, got %v", err)
	}
	if results[0].Result {
		t.Fatal("expected rule over undefined fact not to fire")
	}
}

func TestReplaceFactsInEventParams(t *testing.T) {
	h := newTestHost(t)
	rule := Rule{
		Name:      "withParams",
		Condition: Condition{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "equals", Value: "index.js"},
		Event: Event{
			Type: xfitypes.LevelWarning,
			Params: map[string]any{
				"offendingFile": map[string]any{"fact": "fileData"},
				"static":        "value",
			},
		},
	}
	h.AddRule(rule)

	results, _ := h.Run(almWithFileName("index.js"))
	resolved, ok := results[0].Event.Params["offendingFile"].(map[string]any)
	if !ok {
		t.Fatalf("expected fact placeholder to resolve to the fileData map, got %+v", results[0].Event.Params)
	}
	if resolved["fileName"] != "index.js" {
		t.Fatalf("unexpected resolved fact value: %+v", resolved)
	}
	if results[0].Event.Params["static"] != "value" {
		t.Fatal("expected non-placeholder params to pass through unchanged")
	}
}

func TestRunOrdersByDescendingPriorityThenRegistration(t *testing.T) {
	h := newTestHost(t)
	always := Condition{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "equals", Value: "index.js"}

	h.AddRule(Rule{Name: "low", Priority: 1, Condition: always, Event: Event{Type: xfitypes.LevelWarning}})
	h.AddRule(Rule{Name: "firstAtZero", Condition: always, Event: Event{Type: xfitypes.LevelWarning}})
	h.AddRule(Rule{Name: "high", Priority: 10, Condition: always, Event: Event{Type: xfitypes.LevelWarning}})
	h.AddRule(Rule{Name: "secondAtZero", Condition: always, Event: Event{Type: xfitypes.LevelWarning}})

	results, err := h.Run(almWithFileName("index.js"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var order []string
	for _, r := range results {
		order = append(order, r.Name)
	}
	want := []string{"high", "low", "firstAtZero", "secondAtZero"}
	if len(order) != len(want) {
		t.Fatalf("expected %d results, got %v", len(want), order)
	}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("expected firing order %v, got %v", want, order)
		}
	}
}

func TestOnSuccessCallbackFiresOnlyForMatches(t *testing.T) {
	h := newTestHost(t)
	var fired []string
	h.OnSuccess(func(r RuleResult) { fired = append(fired, r.Name) })

	h.AddRule(Rule{Name: "matches", Condition: Condition{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "equals", Value: "index.js"}, Event: Event{Type: xfitypes.LevelWarning}})
	h.AddRule(Rule{Name: "skips", Condition: Condition{Kind: KindPredicate, Fact: "fileData", Path: "fileName", Operator: "equals", Value: "other.js"}, Event: Event{Type: xfitypes.LevelWarning}})

	if _, err := h.Run(almWithFileName("index.js")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fired) != 1 || fired[0] != "matches" {
		t.Fatalf("expected only the matching rule to invoke OnSuccess, got %v", fired)
	}
}
