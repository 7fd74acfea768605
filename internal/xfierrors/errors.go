// Package xfierrors defines the sentinel error kinds surfaced to callers of
// the analysis engine, per spec.md §7. Callers use errors.Is against the
// sentinels below; wrapped context is added with fmt.Errorf("...: %w", ...)
// throughout, the same convention the teacher repo uses everywhere.
package xfierrors

import "errors"

var (
	// ErrConfigInvalid: archetype or rule schema failed validation. Fatal.
	ErrConfigInvalid = errors.New("xfidelity: config invalid")

	// ErrLoaderMissing: a declared fact/operator name is unknown. Non-fatal
	// unless the archetype declares strict:true.
	ErrLoaderMissing = errors.New("xfidelity: loader missing fact or operator")

	// ErrResultParseError: the result file is missing, empty, or malformed.
	ErrResultParseError = errors.New("xfidelity: result parse error")

	// ErrAnalysisFatal: emitted after artifact persistence when
	// fatalityCount > 0.
	ErrAnalysisFatal = errors.New("xfidelity: analysis produced fatal findings")

	// ErrAlreadyRunning: the editor-host single-flight lock is held.
	ErrAlreadyRunning = errors.New("xfidelity: analysis already running for this workspace")

	// ErrCancelled: cooperative cancellation via context.
	ErrCancelled = errors.New("xfidelity: analysis cancelled")
)

// RuleExecutionError wraps an exception raised inside the rules evaluator
// while processing a specific file/rule. It is never returned as a process
// error -- it is captured, classified, and embedded in the artifact -- but
// is modeled as a Go error type so internal plumbing can use the standard
// error-handling idiom while building the classified RuleFailure.
type RuleExecutionError struct {
	RuleName string
	Source   string // operator|fact|plugin|rule|unknown
	FilePath string
	Err      error
}

func (e *RuleExecutionError) Error() string {
	return "xfidelity: rule execution error: rule=" + e.RuleName +
		" source=" + e.Source + " file=" + e.FilePath + ": " + e.Err.Error()
}

func (e *RuleExecutionError) Unwrap() error { return e.Err }
