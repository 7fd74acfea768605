package location

// complexityMetrics implements rung 2: details.details.complexities[0]
// .metrics.location or details.complexities[0].metrics.location.
// For functionComplexity-iterative, a point or narrow single-line range is
// expanded (never shrunk) until Δline*1000+Δcol exceeds 1000, so editors
// can render a visible highlight.
func complexityMetrics(ruleName string, details, _ map[string]any) (Location, bool) {
	complexities, ok := asSlice(firstNonNil(
		nestedValue(details, "details", "complexities"),
		nestedValue(details, "complexities"),
	))
	if !ok || len(complexities) == 0 {
		return Location{}, false
	}
	entry, ok := asMap(complexities[0])
	if !ok {
		return Location{}, false
	}
	locRaw, ok := dig(entry, "metrics", "location")
	if !ok {
		return Location{}, false
	}
	locMap, ok := asMap(locRaw)
	if !ok {
		return Location{}, false
	}

	loc, ok := rangeFromMap(locMap, "startLine", "startColumn", "endLine", "endColumn")
	if !ok {
		return Location{}, false
	}
	loc.Source = "complexity-metrics"
	loc.Confidence = ConfidenceHigh
	loc.Found = true

	if ruleName == complexityRuleName {
		loc = expandNarrowRange(loc)
	}
	return loc, true
}

// expandNarrowRange widens loc on its end column until its "weight"
// (Δline*1000 + Δcol) exceeds 1000, per spec.md §4.6 rung 2. An
// already-wide range is never shrunk.
func expandNarrowRange(loc Location) Location {
	weight := (loc.EndLine-loc.StartLine)*1000 + (loc.EndColumn - loc.StartColumn)
	if weight > 1000 {
		return loc
	}
	needed := 1001 - weight
	loc.EndColumn += needed
	return loc
}

// dependencyManifestLocation implements rung 3: details.details[*]
// .location{lineNumber,columnNumber,endLineNumber?,endColumnNumber?}.
func dependencyManifestLocation(_ string, details, _ map[string]any) (Location, bool) {
	entries, ok := asSlice(nestedValue(details, "details"))
	if !ok {
		return Location{}, false
	}
	for _, e := range entries {
		entry, ok := asMap(e)
		if !ok {
			continue
		}
		locRaw, ok := field(entry, "location")
		if !ok {
			continue
		}
		locMap, ok := asMap(locRaw)
		if !ok {
			continue
		}
		startLine, ok := intField(locMap, "lineNumber")
		if !ok {
			continue
		}
		startCol, _ := intField(locMap, "columnNumber")
		if startCol == 0 {
			startCol = 1
		}
		endLine, hasEndLine := intField(locMap, "endLineNumber")
		if !hasEndLine {
			endLine = startLine
		}
		endCol, hasEndCol := intField(locMap, "endColumnNumber")
		if !hasEndCol {
			endCol = startCol + 10
		}
		return Location{
			StartLine: startLine, StartColumn: startCol,
			EndLine: endLine, EndColumn: endCol,
			Source: "dependency-manifest-location", Confidence: ConfidenceHigh, Found: true,
		}, true
	}
	return Location{}, false
}

// locationObject implements rung 4: details.location or error.location
// with startLine present.
func locationObject(_ string, details, errObj map[string]any) (Location, bool) {
	for _, src := range []map[string]any{details, errObj} {
		raw, ok := field(src, "location")
		if !ok {
			continue
		}
		locMap, ok := asMap(raw)
		if !ok {
			continue
		}
		if _, ok := intField(locMap, "startLine"); !ok {
			continue
		}
		loc, _ := rangeFromMap(locMap, "startLine", "startColumn", "endLine", "endColumn")
		loc.Source = "location-object"
		loc.Confidence = ConfidenceHigh
		loc.Found = true
		return loc, true
	}
	return Location{}, false
}

// astNode implements rung 5: details.node or error.node with either
// startLine/startColumn or line/column.
func astNode(_ string, details, errObj map[string]any) (Location, bool) {
	for _, src := range []map[string]any{details, errObj} {
		raw, ok := field(src, "node")
		if !ok {
			continue
		}
		nodeMap, ok := asMap(raw)
		if !ok {
			continue
		}
		startLine, ok := intFieldAny(nodeMap, "startLine", "line")
		if !ok {
			continue
		}
		startCol, _ := intFieldAny(nodeMap, "startColumn", "column")
		if startCol == 0 {
			startCol = 1
		}
		endLine, hasEnd := intField(nodeMap, "endLine")
		if !hasEnd {
			endLine = startLine
		}
		endCol, hasEndCol := intField(nodeMap, "endColumn")
		if !hasEndCol {
			endCol = startCol + 20
		}
		return Location{
			StartLine: startLine, StartColumn: startCol,
			EndLine: endLine, EndColumn: endCol,
			Source: "ast-node", Confidence: ConfidenceHigh, Found: true,
		}, true
	}
	return Location{}, false
}

// detailsArray implements rung 6: details.details[0].lineNumber, width 10.
func detailsArray(_ string, details, _ map[string]any) (Location, bool) {
	entries, ok := asSlice(nestedValue(details, "details"))
	if !ok || len(entries) == 0 {
		return Location{}, false
	}
	entry, ok := asMap(entries[0])
	if !ok {
		return Location{}, false
	}
	lineNumber, ok := intField(entry, "lineNumber")
	if !ok {
		return Location{}, false
	}
	const width = 10
	return Location{
		StartLine: lineNumber, StartColumn: 1,
		EndLine: lineNumber, EndColumn: 1 + width,
		Source: "details-array", Confidence: ConfidenceMedium, Found: true,
	}, true
}

// matchesArray implements rung 7: details.details.matches[0] (or
// details.matches[0]) with lineNumber and optional columnNumber/match.
func matchesArray(_ string, details, _ map[string]any) (Location, bool) {
	matches, ok := asSlice(firstNonNil(
		nestedValue(details, "details", "matches"),
		nestedValue(details, "matches"),
	))
	if !ok || len(matches) == 0 {
		return Location{}, false
	}
	entry, ok := asMap(matches[0])
	if !ok {
		return Location{}, false
	}
	lineNumber, ok := intField(entry, "lineNumber")
	if !ok {
		return Location{}, false
	}
	startCol, _ := intField(entry, "columnNumber")
	if startCol == 0 {
		startCol = 1
	}
	width := 20
	if matchStr, ok := asString(mustField(entry, "match")); ok && len(matchStr) > 0 {
		width = len(matchStr)
	}
	return Location{
		StartLine: lineNumber, StartColumn: startCol,
		EndLine: lineNumber, EndColumn: startCol + width,
		Source: "matches-array", Confidence: ConfidenceMedium, Found: true,
	}, true
}

// rangeObject implements rung 8: {start:{line,column}, end:{line,column}},
// looked up at details.range or, failing that, details itself.
func rangeObject(_ string, details, _ map[string]any) (Location, bool) {
	candidates := []map[string]any{}
	if raw, ok := field(details, "range"); ok {
		if m, ok := asMap(raw); ok {
			candidates = append(candidates, m)
		}
	}
	candidates = append(candidates, details)

	for _, c := range candidates {
		startRaw, ok := field(c, "start")
		if !ok {
			continue
		}
		endRaw, ok := field(c, "end")
		if !ok {
			continue
		}
		startMap, ok := asMap(startRaw)
		if !ok {
			continue
		}
		endMap, ok := asMap(endRaw)
		if !ok {
			continue
		}
		startLine, ok := intField(startMap, "line")
		if !ok {
			continue
		}
		startCol, _ := intField(startMap, "column")
		endLine, ok := intField(endMap, "line")
		if !ok {
			endLine = startLine
		}
		endCol, _ := intField(endMap, "column")
		return Location{
			StartLine: startLine, StartColumn: startCol,
			EndLine: endLine, EndColumn: endCol,
			Source: "range-object", Confidence: ConfidenceMedium, Found: true,
		}, true
	}
	return Location{}, false
}

// detailsLineNumber implements rung 9: details.lineNumber (or top-level
// error.lineNumber), width 20.
func detailsLineNumber(_ string, details, errObj map[string]any) (Location, bool) {
	lineNumber, ok := intField(details, "lineNumber")
	if !ok {
		lineNumber, ok = intField(errObj, "lineNumber")
	}
	if !ok {
		return Location{}, false
	}
	const width = 20
	return Location{
		StartLine: lineNumber, StartColumn: 1,
		EndLine: lineNumber, EndColumn: 1 + width,
		Source: "details-line-number", Confidence: ConfidenceMedium, Found: true,
	}, true
}

// legacyLineNumber implements rung 10: error.lineNumber or error.line with
// columnNumber/column.
func legacyLineNumber(_ string, _ map[string]any, errObj map[string]any) (Location, bool) {
	lineNumber, ok := intFieldAny(errObj, "lineNumber", "line")
	if !ok {
		return Location{}, false
	}
	col, ok := intFieldAny(errObj, "columnNumber", "column")
	if !ok {
		col = 1
	}
	const width = 10
	return Location{
		StartLine: lineNumber, StartColumn: col,
		EndLine: lineNumber, EndColumn: col + width,
		Source: "legacy", Confidence: ConfidenceLow, Found: true,
	}, true
}

// rangeFromMap reads four int-like fields from m into a Location. ok is
// false only if the start-line field is missing (a missing start column
// reads as 0); missing end fields default to the start position (callers
// then promote via validate).
func rangeFromMap(m map[string]any, startLineKey, startColKey, endLineKey, endColKey string) (Location, bool) {
	startLine, ok := intField(m, startLineKey)
	if !ok {
		return Location{}, false
	}
	startCol, _ := intField(m, startColKey)
	endLine, hasEnd := intField(m, endLineKey)
	if !hasEnd {
		endLine = startLine
	}
	endCol, hasEndCol := intField(m, endColKey)
	if !hasEndCol {
		endCol = startCol
	}
	return Location{StartLine: startLine, StartColumn: startCol, EndLine: endLine, EndColumn: endCol}, true
}

func nestedValue(m map[string]any, keys ...string) any {
	v, ok := dig(m, keys...)
	if !ok {
		return nil
	}
	return v
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func mustField(m map[string]any, key string) any {
	v, _ := field(m, key)
	return v
}
