// Package xfitypes holds the data model shared across the analysis engine:
// file records, rule failures, scan results, and the persisted XFI_RESULT
// artifact. Packages that need these shapes import this package rather than
// redeclaring them, mirroring the role quarry/types plays for its runtime.
package xfitypes

import "time"

// FileData is a single unit of analysis input: either a real file on disk
// or the REPO_GLOBAL_CHECK sentinel.
type FileData struct {
	FileName     string `json:"fileName"`
	FilePath     string `json:"filePath"`
	RelativePath string `json:"relativePath"`
	FileContent  string `json:"fileContent"`
	FileAst      any    `json:"fileAst,omitempty"`
}

// globalCheckLiteral is the sentinel string shared by all three FileData
// string fields on the synthetic global-check record.
const globalCheckLiteral = "REPO_GLOBAL_CHECK"

// RepoGlobalCheck is the sentinel FileData appended once per analysis to
// trigger rules whose scope is the whole repository.
var RepoGlobalCheck = FileData{
	FileName:     globalCheckLiteral,
	FilePath:     globalCheckLiteral,
	RelativePath: globalCheckLiteral,
}

// IsGlobalCheck reports whether fd is the REPO_GLOBAL_CHECK sentinel.
func (fd FileData) IsGlobalCheck() bool {
	return fd.FileName == globalCheckLiteral &&
		fd.FilePath == globalCheckLiteral &&
		fd.RelativePath == globalCheckLiteral
}

// Level is a rule-failure severity. It also doubles as the CEL-rule event
// type: warning, error, fatality, or exempt.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelFatality Level = "fatality"
	LevelExempt   Level = "exempt"
)

// ErrorSource classifies where a per-file evaluation exception originated.
type ErrorSource string

const (
	SourcePlugin   ErrorSource = "plugin"
	SourceOperator ErrorSource = "operator"
	SourceFact     ErrorSource = "fact"
	SourceRule     ErrorSource = "rule"
	SourceUnknown  ErrorSource = "unknown"
)

// RuleFailure is one fired rule's result for one file.
type RuleFailure struct {
	RuleFailure string         `json:"ruleFailure"`
	Level       Level          `json:"level"`
	Details     map[string]any `json:"details"`
}

// ScanResult aggregates every RuleFailure produced for a single file.
type ScanResult struct {
	FilePath string        `json:"filePath"`
	Errors   []RuleFailure `json:"errors"`
}

// TelemetryData is the telemetry snapshot embedded in XFIResult.
type TelemetryData struct {
	RepoURL      string `json:"repoUrl"`
	ConfigServer string `json:"configServer"`
	HostInfo     string `json:"hostInfo"`
	UserInfo     string `json:"userInfo"`
}

// Options is the resolved set of CLI/config options recorded in the
// persisted artifact, per spec.md §3.
type Options struct {
	Dir                string `json:"dir"`
	Archetype          string `json:"archetype"`
	ConfigServer       string `json:"configServer,omitempty"`
	LocalConfigPath    string `json:"localConfigPath,omitempty"`
	TelemetryCollector string `json:"telemetryCollector,omitempty"`
	OutputFormat       string `json:"outputFormat"`
	Mode               string `json:"mode"`
}

// XFIResult is the full persisted analysis artifact.
type XFIResult struct {
	Archetype       string             `json:"archetype"`
	RepoPath        string             `json:"repoPath"`
	RepoURL         string             `json:"repoUrl"`
	FileCount       int                `json:"fileCount"`
	GlobalChecksRun int                `json:"globalChecksRun"`
	TotalIssues     int                `json:"totalIssues"`
	WarningCount    int                `json:"warningCount"`
	ErrorCount      int                `json:"errorCount"`
	FatalityCount   int                `json:"fatalityCount"`
	ExemptCount     int                `json:"exemptCount"`
	IssueDetails    []ScanResult       `json:"issueDetails"`
	StartTime       time.Time          `json:"startTime"`
	FinishTime      time.Time          `json:"finishTime"`
	DurationSeconds float64            `json:"durationSeconds"`
	MemoryUsageMB   float64            `json:"memoryUsage"`
	FactMetrics     map[string]float64 `json:"factMetrics,omitempty"`
	Options         Options            `json:"options"`
	TelemetryData   TelemetryData      `json:"telemetryData"`
	RepoXFIConfig   map[string]any     `json:"repoXFIConfig,omitempty"`
	XFIVersion      string             `json:"xfiVersion"`
}

// Recount recomputes TotalIssues from the four level counters, enforcing
// the invariant totalIssues == warning+error+fatality+exempt.
func (r *XFIResult) Recount() {
	r.TotalIssues = r.WarningCount + r.ErrorCount + r.FatalityCount + r.ExemptCount
}
