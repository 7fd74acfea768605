// Package rulesengine wraps google/cel-go into the declarative evaluator
// required by spec.md §4.4: register operators and facts, add rules
// (nested AND/OR conditions + event), and run a ruleset against a
// per-file Almanac. It generalizes internal/policy's CELEvaluator --
// which compiled a single flat CEL expression per policy against a fixed
// ActionContext -- into compiling an arbitrary condition *tree* per rule
// against an open-ended, almanac-resolved fact set, with each archetype's
// registered operators exposed as CEL functions exactly the way
// action_count_in_window was bound there.
package rulesengine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter/functions"

	"github.com/xfidelity/xfidelity/internal/facts"
	"github.com/xfidelity/xfidelity/internal/operators"
	"github.com/xfidelity/xfidelity/internal/xfierrors"
)

// maxPredicatesPerRule bounds how many distinct leaf predicates a single
// rule's condition tree may contain. Each leaf needs two dedicated CEL
// slot variables (factN/cmpN); this is generous for any realistic
// archetype rule and keeps the shared environment's declaration list
// finite.
const maxPredicatesPerRule = 32

// Host is the rules-engine host (C4): it owns the operator registry, the
// shared CEL environment built from it, and the set of compiled rules for
// one archetype.
type Host struct {
	registry *operators.Registry
	env      *cel.Env
	logger   *slog.Logger

	compiled []compiledRule
	sorted   bool

	onSuccess func(RuleResult)
}

type compiledRule struct {
	rule    Rule
	program cel.Program
	leaves  []leaf
	opErr   *operatorErrorBox
}

// operatorErrorBox carries the most recent operator failure out of a CEL
// evaluation: cel-go's bound functions can only return a ref.Val, so a
// types.NewErr result loses the original Go error and operator name by
// the time Run inspects it. Run resets this box immediately before each
// Eval call, and a Host's compiled rules are only ever driven by one
// goroutine at a time (one Almanac, and so one Run call, per file).
type operatorErrorBox struct {
	operator string
	err      error
}

type leaf struct {
	fact     string
	path     string
	operator string
	value    any
}

// NewHost builds a Host over the given operator registry. The registry
// must already contain every operator name referenced by rules that will
// be added -- operators are wired into the CEL environment at
// construction time, mirroring policy.NewCELEvaluator's up-front
// cel.Function declarations.
func NewHost(registry *operators.Registry, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := make([]cel.EnvOption, 0, maxPredicatesPerRule*2+len(registry.Names()))
	for i := 0; i < maxPredicatesPerRule; i++ {
		opts = append(opts,
			cel.Variable(slotName("fact", i), cel.DynType),
			cel.Variable(slotName("cmp", i), cel.DynType),
		)
	}
	for _, name := range registry.Names() {
		opts = append(opts, cel.Function(operatorFuncName(name),
			cel.Overload(operatorFuncName(name)+"_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType},
				cel.BoolType,
			),
		))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("build rules-engine CEL environment: %w", err)
	}

	return &Host{
		registry: registry,
		env:      env,
		logger:   logger.With("component", "rulesengine.Host"),
	}, nil
}

// OnSuccess registers a callback invoked for every RuleResult whose
// Result is true, implementing spec.md §4.4's "subscribes to success
// events to emit telemetry" requirement.
func (h *Host) OnSuccess(fn func(RuleResult)) {
	h.onSuccess = fn
}

// AddRule compiles rule's condition tree into a CEL program and registers
// it for future Run calls.
func (h *Host) AddRule(rule Rule) error {
	var leaves []leaf
	expr, err := compileCondition(rule.Condition, &leaves)
	if err != nil {
		return fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	if len(leaves) > maxPredicatesPerRule {
		return fmt.Errorf("rule %q: condition tree has %d predicates, exceeds limit %d", rule.Name, len(leaves), maxPredicatesPerRule)
	}

	ast, issues := h.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("rule %q: CEL compile error in %q: %w", rule.Name, expr, issues.Err())
	}

	box := &operatorErrorBox{}
	functionBindings := make([]*functions.Overload, 0, len(h.registry.Names()))
	for _, name := range h.registry.Names() {
		op, _ := h.registry.Get(name)
		functionBindings = append(functionBindings, &functions.Overload{
			Operator: operatorFuncName(name) + "_dyn_dyn",
			Binary:   bindOperator(name, op, box),
		})
	}

	program, err := h.env.Program(ast, cel.Functions(functionBindings...))
	if err != nil {
		return fmt.Errorf("rule %q: CEL program creation failed: %w", rule.Name, err)
	}

	h.compiled = append(h.compiled, compiledRule{rule: rule, program: program, leaves: leaves, opErr: box})
	return nil
}

func bindOperator(name string, op operators.Operator, box *operatorErrorBox) functions.BinaryOp {
	return func(lhs, rhs ref.Val) ref.Val {
		result, err := op(lhs.Value(), rhs.Value())
		if err != nil {
			box.operator = name
			box.err = err
			return types.NewErr("operator %q error: %v", name, err)
		}
		return types.Bool(result)
	}
}

// Run evaluates every compiled rule against alm, resolving each leaf's
// fact (and optional dot path) on demand -- facts are resolved lazily and
// memoized within this single run by virtue of Almanac.Get's own
// memoization. An absent fact resolves to undefined (nil) without
// aborting the run, per allowUndefinedFacts.
func (h *Host) Run(alm *facts.Almanac) ([]RuleResult, error) {
	h.ensureSorted()
	results := make([]RuleResult, 0, len(h.compiled))
	for _, cr := range h.compiled {
		vars := make(map[string]any, len(cr.leaves)*2)
		var factErr error
		for i, lf := range cr.leaves {
			factVal, _, err := alm.Get(lf.fact)
			if err != nil {
				factErr = &xfierrors.RuleExecutionError{RuleName: cr.rule.Name, Source: "fact", Err: err}
				break
			}
			if lf.path != "" {
				factVal = navigatePath(factVal, lf.path)
			}
			vars[slotName("fact", i)] = factVal
			vars[slotName("cmp", i)] = lf.value
		}
		if factErr != nil {
			return results, factErr
		}

		cr.opErr.err = nil
		out, _, err := cr.program.Eval(vars)
		if err != nil || types.IsError(out) {
			if cr.opErr.err != nil {
				return results, &xfierrors.RuleExecutionError{RuleName: cr.rule.Name, Source: "operator", Err: fmt.Errorf("operator %q: %w", cr.opErr.operator, cr.opErr.err)}
			}
			if err == nil {
				err = fmt.Errorf("%v", out.Value())
			}
			return results, &xfierrors.RuleExecutionError{RuleName: cr.rule.Name, Source: "rule", Err: err}
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return results, &xfierrors.RuleExecutionError{RuleName: cr.rule.Name, Source: "rule", Err: fmt.Errorf("condition did not evaluate to bool: %T", out.Value())}
		}

		event := cr.rule.Event
		event.Params = replaceFactsInEventParams(event.Params, alm)

		result := RuleResult{Name: cr.rule.Name, Result: matched, Event: event}
		results = append(results, result)
		if matched && h.onSuccess != nil {
			h.onSuccess(result)
		}
	}
	return results, nil
}

// Rules returns the set of rules currently registered, in firing order
// (priority descending, ties broken by registration order).
func (h *Host) Rules() []Rule {
	h.ensureSorted()
	out := make([]Rule, len(h.compiled))
	for i, cr := range h.compiled {
		out[i] = cr.rule
	}
	return out
}

// ensureSorted orders h.compiled by descending Rule.Priority the first
// time it's needed, stably so rules sharing a priority keep their
// AddRule registration order (spec.md §9). AddRule calls are expected to
// finish before the first Run; sorting lazily here means Run always
// observes the final registered set regardless of when AddRule stops.
func (h *Host) ensureSorted() {
	if h.sorted {
		return
	}
	sort.SliceStable(h.compiled, func(i, j int) bool {
		return h.compiled[i].rule.Priority > h.compiled[j].rule.Priority
	})
	h.sorted = true
}

func compileCondition(c Condition, leaves *[]leaf) (string, error) {
	switch c.Kind {
	case KindPredicate:
		idx := len(*leaves)
		*leaves = append(*leaves, leaf{fact: c.Fact, path: c.Path, operator: c.Operator, value: c.Value})
		return fmt.Sprintf("%s(%s, %s)", operatorFuncName(c.Operator), slotName("fact", idx), slotName("cmp", idx)), nil
	case KindAll, KindAny:
		if len(c.Children) == 0 {
			return "", fmt.Errorf("condition combinator has no children")
		}
		joiner := " && "
		if c.Kind == KindAny {
			joiner = " || "
		}
		expr := ""
		for i, child := range c.Children {
			sub, err := compileCondition(child, leaves)
			if err != nil {
				return "", err
			}
			if i > 0 {
				expr += joiner
			}
			expr += "(" + sub + ")"
		}
		return expr, nil
	default:
		return "", fmt.Errorf("unknown condition kind %v", c.Kind)
	}
}

func slotName(prefix string, i int) string {
	return fmt.Sprintf("%s%d", prefix, i)
}

func operatorFuncName(name string) string {
	return "op_" + name
}
