package loader

import (
	"encoding/json"
	"fmt"

	"github.com/xfidelity/xfidelity/internal/rulesengine"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// ruleDocument is the on-disk/on-wire JSON shape of a rule, mirroring the
// json-rules-engine convention spec.md's original describes conditions
// in: a condition node is either {"all": [...]}, {"any": [...]}, or a
// leaf {"fact", "path"?, "operator", "value"}.
type ruleDocument struct {
	Name          string       `json:"name"`
	Priority      int          `json:"priority,omitempty"`
	Conditions    conditionDoc `json:"conditions"`
	Event         eventDoc     `json:"event"`
	ErrorBehavior string       `json:"errorBehavior,omitempty"`
	OnError       *onErrorDoc  `json:"onError,omitempty"`
}

type conditionDoc struct {
	All      []conditionDoc `json:"all,omitempty"`
	Any      []conditionDoc `json:"any,omitempty"`
	Fact     string         `json:"fact,omitempty"`
	Path     string          `json:"path,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Value    any             `json:"value,omitempty"`
}

type eventDoc struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

type onErrorDoc struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// parseRuleDocument unmarshals raw into a rulesengine.Rule.
func parseRuleDocument(raw []byte) (rulesengine.Rule, error) {
	var doc ruleDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return rulesengine.Rule{}, fmt.Errorf("parse rule document: %w", err)
	}
	cond, err := toCondition(doc.Conditions)
	if err != nil {
		return rulesengine.Rule{}, fmt.Errorf("rule %q: %w", doc.Name, err)
	}

	behavior := rulesengine.ErrorBehavior(doc.ErrorBehavior)
	if behavior == "" {
		behavior = rulesengine.DefaultErrorBehavior
	}

	rule := rulesengine.Rule{
		Name:          doc.Name,
		Priority:      doc.Priority,
		Condition:     cond,
		Event:         rulesengine.Event{Type: xfitypes.Level(doc.Event.Type), Params: doc.Event.Params},
		ErrorBehavior: behavior,
	}
	if doc.OnError != nil {
		rule.OnError = &rulesengine.OnError{Action: doc.OnError.Action, Params: doc.OnError.Params}
	}
	return rule, nil
}

func toCondition(doc conditionDoc) (rulesengine.Condition, error) {
	switch {
	case len(doc.All) > 0:
		children := make([]rulesengine.Condition, 0, len(doc.All))
		for _, c := range doc.All {
			child, err := toCondition(c)
			if err != nil {
				return rulesengine.Condition{}, err
			}
			children = append(children, child)
		}
		return rulesengine.Condition{Kind: rulesengine.KindAll, Children: children}, nil
	case len(doc.Any) > 0:
		children := make([]rulesengine.Condition, 0, len(doc.Any))
		for _, c := range doc.Any {
			child, err := toCondition(c)
			if err != nil {
				return rulesengine.Condition{}, err
			}
			children = append(children, child)
		}
		return rulesengine.Condition{Kind: rulesengine.KindAny, Children: children}, nil
	case doc.Fact != "" && doc.Operator != "":
		return rulesengine.Condition{
			Kind: rulesengine.KindPredicate, Fact: doc.Fact, Path: doc.Path,
			Operator: doc.Operator, Value: doc.Value,
		}, nil
	default:
		return rulesengine.Condition{}, fmt.Errorf("invalid condition node: %+v", doc)
	}
}
