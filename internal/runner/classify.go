package runner

import (
	"errors"

	"github.com/xfidelity/xfidelity/internal/rulesengine"
	"github.com/xfidelity/xfidelity/internal/xfierrors"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// HostError marks a rules-engine host construction failure (a malformed
// operator binding or a rule that failed to compile at registration time)
// as a plugin-level fault, per spec.md §4.5 -- no rule ran yet for this
// file, so there is no specific rule name to blame, and nothing in the
// loaded extension set could even be registered.
type HostError struct {
	Err error
}

func (e *HostError) Error() string { return "rules-engine host construction: " + e.Err.Error() }

func (e *HostError) Unwrap() error { return e.Err }

// classifyError maps a rule-evaluation fault to the errorSource/level pair
// spec.md §4.5's exception table assigns it, and synthesizes the
// RuleFailure the file's result carries for it. host may be nil (a
// host-construction fault, by definition, has no rule list to consult).
//
// Anything tagged with a source by xfierrors.RuleExecutionError
// (operator/fact/rule, set where the fault was raised inside
// internal/rulesengine) keeps that source. A HostError is always plugin/
// fatal. Anything else (a recovered panic, for instance) is unknown.
func (r *Runner) classifyError(err error, host *rulesengine.Host) xfitypes.RuleFailure {
	var hostErr *HostError
	if errors.As(err, &hostErr) {
		return r.buildFailure("ExecutionError", xfitypes.SourcePlugin, xfitypes.LevelFatality, err, nil)
	}

	var execErr *xfierrors.RuleExecutionError
	if !errors.As(err, &execErr) {
		return r.buildFailure("ExecutionError", xfitypes.SourceUnknown, xfitypes.LevelError, err, nil)
	}

	source := xfitypes.ErrorSource(execErr.Source)
	rule := findRule(host, execErr.RuleName)
	return r.buildFailure(execErr.RuleName, source, levelFor(rule), err, rule)
}

// levelFor escalates to fatality when the failing rule declared
// errorBehavior: fatal or an event type of fatality; everything else is a
// non-aborting error.
func levelFor(rule *rulesengine.Rule) xfitypes.Level {
	if rule == nil {
		return xfitypes.LevelError
	}
	if rule.ErrorBehavior == rulesengine.ErrorBehaviorFatal || rule.Event.Type == xfitypes.LevelFatality {
		return xfitypes.LevelFatality
	}
	return xfitypes.LevelError
}

func findRule(host *rulesengine.Host, name string) *rulesengine.Rule {
	if host == nil {
		return nil
	}
	for _, rule := range host.Rules() {
		if rule.Name == name {
			return &rule
		}
	}
	return nil
}

// buildFailure assembles the synthetic RuleFailure and, when the failing
// rule declared onError.action, dispatches it -- the action's outcome is
// logged but never alters the classification already decided above.
func (r *Runner) buildFailure(name string, source xfitypes.ErrorSource, level xfitypes.Level, err error, rule *rulesengine.Rule) xfitypes.RuleFailure {
	failure := xfitypes.RuleFailure{
		RuleFailure: name,
		Level:       level,
		Details: map[string]any{
			"message": err.Error(),
			"source":  string(source),
		},
	}

	if rule == nil || rule.OnError == nil {
		return failure
	}

	action, ok := r.actions[rule.OnError.Action]
	if !ok {
		r.logger.Warn("onError action not registered, skipping", "rule", rule.Name, "action", rule.OnError.Action)
		return failure
	}

	actionErr := action(ActionContext{
		Error:  err,
		Rule:   *rule,
		Level:  level,
		Source: source,
		Params: rule.OnError.Params,
	})
	if actionErr != nil {
		r.logger.Warn("onError action failed", "rule", rule.Name, "action", rule.OnError.Action, "error", actionErr)
	} else {
		r.logger.Info("onError action completed", "rule", rule.Name, "action", rule.OnError.Action)
	}
	return failure
}

// ActionContext is what an onError.action handler receives: the
// classified failure plus the rule and parameters that produced it.
type ActionContext struct {
	Error  error
	Rule   rulesengine.Rule
	Level  xfitypes.Level
	Source xfitypes.ErrorSource
	Params map[string]any
}

// Action handles a rule's onError.action by name.
type Action func(ActionContext) error
