// Package exemption implements the (repoUrl, ruleName) waiver match and the
// exempt-rewrite step described in spec.md §4.8.
package exemption

import (
	"strings"
	"time"

	"github.com/xfidelity/xfidelity/internal/rulesengine"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// MatchMode controls how an Exemption's RepoURL is compared against the
// analysis's repoUrl. Per spec.md §9's Open Question resolution, the
// default is exact equality; substring matching is opt-in.
type MatchMode string

const (
	MatchExact     MatchMode = "exact"
	MatchSubstring MatchMode = "substring"
)

// Exemption is a time-limited waiver downgrading a specific (repo, rule)
// pair to level "exempt".
type Exemption struct {
	RepoURL        string    `json:"repoUrl"`
	RuleName       string    `json:"ruleName"`
	ExpirationDate time.Time `json:"expirationDate"`
	Reason         string    `json:"reason"`
}

// unexpired reports whether e is still active relative to now.
func (e Exemption) unexpired(now time.Time) bool {
	return e.ExpirationDate.After(now)
}

func (e Exemption) matchesRepo(repoURL string, mode MatchMode) bool {
	switch mode {
	case MatchSubstring:
		return strings.Contains(repoURL, e.RepoURL) || strings.Contains(e.RepoURL, repoURL)
	default:
		return e.RepoURL == repoURL
	}
}

// Engine matches rule names against a loaded exemption list.
type Engine struct {
	exemptions []Exemption
	mode       MatchMode
}

// New creates an exemption Engine over the given (already schema-loaded)
// exemptions, using the given repo-URL match mode.
func New(exemptions []Exemption, mode MatchMode) *Engine {
	if mode == "" {
		mode = MatchExact
	}
	return &Engine{exemptions: exemptions, mode: mode}
}

// IsExempt reports whether (repoUrl, ruleName) is covered by an unexpired
// exemption as of now.
func (e *Engine) IsExempt(repoURL, ruleName string, now time.Time) bool {
	for _, ex := range e.exemptions {
		if ex.RuleName == ruleName && ex.matchesRepo(repoURL, e.mode) && ex.unexpired(now) {
			return true
		}
	}
	return false
}

// ApplyExemptions implements spec.md §4.8's rewrite step: every rule
// covered by an unexpired exemption for repoURL is cloned (never
// mutated in place -- rules.Clone already deep-copies Event/OnError
// params) with its event.type rewritten to "exempt", before the rule
// list is registered into a rulesengine.Host. Rules with no matching
// exemption pass through unchanged.
func (e *Engine) ApplyExemptions(rules []rulesengine.Rule, repoURL string, now time.Time) []rulesengine.Rule {
	out := make([]rulesengine.Rule, len(rules))
	for i, rule := range rules {
		if !e.IsExempt(repoURL, rule.Name, now) {
			out[i] = rule
			continue
		}
		exempted := rule.Clone()
		exempted.Event.Type = xfitypes.LevelExempt
		out[i] = exempted
	}
	return out
}
