// Package location implements the canonical location extractor (spec.md
// §4.6): given the heterogeneous `details` payload of a rule failure, and
// optionally the raw error object that produced it, produce a single
// (startLine, startColumn, endLine, endColumn, source, confidence) range.
//
// This is bespoke ad hoc-JSON-shape dispatch with no library analog
// anywhere in the teacher or the wider example pack (see DESIGN.md): the
// "try N incompatible shapes in priority order, first found wins" pattern
// is implemented directly over encoding/json's map[string]any, following
// the tagged-variant guidance in spec.md §9.
package location

// Confidence describes how reliable an extracted range is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Location is the canonical output of the extractor.
type Location struct {
	StartLine   int        `json:"startLine"`
	StartColumn int        `json:"startColumn"`
	EndLine     int        `json:"endLine"`
	EndColumn   int        `json:"endColumn"`
	Source      string     `json:"source"`
	Confidence  Confidence `json:"confidence"`
	Found       bool       `json:"found"`
}

// fileLevelRuleNames are the rules whose scope is never a precise range;
// they always resolve to the fixed (1,1)-(1,20) range at file-level-rule
// confidence, per spec.md §4.6 rung 1.
var fileLevelRuleNames = map[string]bool{
	"functionCount-iterative":             true,
	"codeRhythm-iterative":                true,
	"outdatedFramework-global":            true,
	"invalidSystemIdConfigured-iterative": true,
}

const complexityRuleName = "functionComplexity-iterative"

// fixedRange is the fixed range used by rung 1 and the ultimate
// fallback.
func fixedRange(source string, confidence Confidence, found bool) Location {
	return Location{
		StartLine: 1, StartColumn: 1, EndLine: 1, EndColumn: 20,
		Source: source, Confidence: confidence, Found: found,
	}
}

// Extract runs the priority ladder described in spec.md §4.6 against
// details (the rule failure's event.params payload) and errObj (the raw
// error/exception object, when evaluation failed with an exception rather
// than firing a normal rule event -- may be nil).
//
// Rung 1 is split in two. Rules in fileLevelRuleNames are checked first
// and always take the fixed range without trying rungs 2-10, since those
// rules are never expected to carry a real range in their payload. The
// functionComplexity-iterative part of rung 1 is evaluated *after* rungs
// 2-10: the spec's own text says that rule only takes the fixed
// file-level range "when no specific location present", which can only
// be known once the location-bearing rungs have been tried.
func Extract(ruleName string, details map[string]any, errObj map[string]any) Location {
	if fileLevelRuleNames[ruleName] {
		return validate(fixedRange("file-level-rule", ConfidenceMedium, true))
	}

	candidate, found := extractRanked(ruleName, details, errObj)

	if !found && ruleName == complexityRuleName {
		return validate(fixedRange("file-level-rule", ConfidenceMedium, true))
	}

	if !found {
		return validate(fixedRange("fallback", ConfidenceLow, false))
	}

	return validate(candidate)
}

// extractRanked tries rungs 2 through 10 in priority order and returns the
// first match.
func extractRanked(ruleName string, details, errObj map[string]any) (Location, bool) {
	type rung func(string, map[string]any, map[string]any) (Location, bool)

	rungs := []rung{
		complexityMetrics,
		dependencyManifestLocation,
		locationObject,
		astNode,
		detailsArray,
		matchesArray,
		rangeObject,
		detailsLineNumber,
		legacyLineNumber,
	}

	for _, r := range rungs {
		if loc, ok := r(ruleName, details, errObj); ok {
			return loc, true
		}
	}
	return Location{}, false
}

// validate clamps a candidate range to the invariants required by
// spec.md §3: 1-based coordinates, endLine >= startLine, and on
// same-line ranges endColumn > startColumn (promoted by one if needed).
func validate(loc Location) Location {
	if loc.StartLine < 1 {
		loc.StartLine = 1
	}
	if loc.StartColumn < 1 {
		loc.StartColumn = 1
	}
	if loc.EndLine < loc.StartLine {
		loc.EndLine = loc.StartLine
	}
	if loc.EndLine == loc.StartLine && loc.EndColumn <= loc.StartColumn {
		loc.EndColumn = loc.StartColumn + 1
	}
	if loc.EndColumn < 1 {
		loc.EndColumn = 1
	}
	return loc
}
