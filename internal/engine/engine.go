// Package engine is the top-level orchestrator: it drives one analysis
// run end to end, wiring C1 (collector) through C9 (configcache, consumed
// inside config.Manager) plus the ambient ownership the distilled spec
// omits -- telemetry, run history, editor-host progress, and the
// subprocess single-flight lock. Grounded on the teacher's
// internal/server/grpc.go request-handling shape (resolve config, run the
// work, persist, emit telemetry, all under one context.Context), adapted
// from a single RPC call into a full batch-analysis pipeline.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/xfidelity/xfidelity/internal/collector"
	"github.com/xfidelity/xfidelity/internal/config"
	"github.com/xfidelity/xfidelity/internal/exemption"
	"github.com/xfidelity/xfidelity/internal/history"
	"github.com/xfidelity/xfidelity/internal/loader"
	"github.com/xfidelity/xfidelity/internal/lockfile"
	"github.com/xfidelity/xfidelity/internal/operators"
	"github.com/xfidelity/xfidelity/internal/progress"
	"github.com/xfidelity/xfidelity/internal/result"
	"github.com/xfidelity/xfidelity/internal/rulesengine"
	"github.com/xfidelity/xfidelity/internal/runner"
	"github.com/xfidelity/xfidelity/internal/telemetry"
	"github.com/xfidelity/xfidelity/internal/xfierrors"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// xfiVersion is stamped into every persisted artifact's xfiVersion field.
const xfiVersion = "1.0.0"

// RunOptions is one analysis invocation's resolved parameters -- the
// engine-level counterpart of the CLI flags described in spec.md §6.
type RunOptions struct {
	Dir                 string
	RepoURL             string
	Archetype           string
	ConfigServer        string
	TelemetryCollector  string
	LocalOverlayDir     string
	LocalExemptionsPath string
	RulesSearchPath     string
	OpenAIEnabled       bool
	MaxConcurrentFiles  int
	CorrelationID       string
	Mode                string // "cli" (or "") or "vscode"
}

// Engine drives a full analysis run: resolve config, collect files, build
// the per-file rules-engine host, run the bounded worker pool, persist the
// result, and emit telemetry/history/progress as configured.
type Engine struct {
	manager      *config.Manager
	telemetry    *telemetry.Client
	progress     *progress.Hub
	history      *history.Store
	staleTimeout time.Duration
	logger       *slog.Logger
}

// New creates an Engine. progress and history may be nil -- a nil progress
// Hub simply never broadcasts (vscode mode becomes a no-op push), and a
// nil history Store skips the run-history append. telemetryClient may
// also be nil, in which case telemetry emission is disabled the same way
// an unconfigured telemetry.Client is (no collector URL or secret): every
// Send call on it is a silent no-op.
func New(manager *config.Manager, telemetryClient *telemetry.Client, progressHub *progress.Hub, historyStore *history.Store, staleTimeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if staleTimeout <= 0 {
		staleTimeout = lockfile.DefaultStaleTimeout
	}
	if telemetryClient == nil {
		telemetryClient = telemetry.New("", "", logger)
	}
	return &Engine{
		manager:      manager,
		telemetry:    telemetryClient,
		progress:     progressHub,
		history:      historyStore,
		staleTimeout: staleTimeout,
		logger:       logger.With("component", "engine.Engine"),
	}
}

// Run executes one analysis of opts.Dir, returning the assembled
// XFIResult. The subprocess single-flight lock is held for the whole call;
// errors.Is(err, xfierrors.ErrAlreadyRunning) reports lock contention.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*xfitypes.XFIResult, error) {
	logger := e.logger.With("correlation_id", opts.CorrelationID, "archetype", opts.Archetype, "dir", opts.Dir)

	lock, err := lockfile.Acquire(opts.Dir, opts.CorrelationID, e.staleTimeout, logger)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	startTime := time.Now()
	e.telemetry.Send(telemetry.EventAnalysisStart, map[string]any{
		"archetype": opts.Archetype,
		"repoPath":  opts.Dir,
		"repoUrl":   opts.RepoURL,
	})

	res, runErr := e.run(ctx, opts, logger)
	finishTime := time.Now()

	if runErr != nil {
		e.telemetry.Send(telemetry.EventError, map[string]any{"error": runErr.Error()})
		return nil, runErr
	}

	res.StartTime = startTime
	res.FinishTime = finishTime
	res.DurationSeconds = finishTime.Sub(startTime).Seconds()
	res.XFIVersion = xfiVersion
	tallyLevels(res)

	artifactPath, writeErr := result.Write(opts.Dir, *res)
	if writeErr != nil {
		return nil, fmt.Errorf("persist result: %w", writeErr)
	}
	logger.Info("result written", "path", artifactPath)

	if e.history != nil {
		runID := opts.CorrelationID
		if runID == "" {
			runID = fmt.Sprintf("%s-%d", opts.Archetype, startTime.UnixNano())
		}
		if err := e.history.Record(runID, *res); err != nil {
			logger.Warn("run history append failed, continuing", "error", err)
		}
	}

	e.telemetry.Send(telemetry.EventAnalysisEnd, map[string]any{
		"archetype":     opts.Archetype,
		"totalIssues":   res.TotalIssues,
		"fatalityCount": res.FatalityCount,
	})

	if res.FatalityCount > 0 {
		e.telemetry.Send(telemetry.EventFatality, map[string]any{"fatalityCount": res.FatalityCount})
		return res, xfierrors.ErrAnalysisFatal
	}
	return res, nil
}

// run implements the C1-C9 pipeline proper, returning an unpersisted,
// uncounted XFIResult (Run fills in timing, version, and level tallies).
func (e *Engine) run(ctx context.Context, opts RunOptions, logger *slog.Logger) (*xfitypes.XFIResult, error) {
	resolved, err := e.manager.Resolve(opts.Archetype, opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve archetype %q: %w", opts.Archetype, err)
	}

	exemptions, err := e.manager.LoadExemptions(opts.LocalExemptionsPath)
	if err != nil {
		logger.Warn("exemptions load failed, continuing with none", "error", err)
	}
	exemptEngine := exemption.New(exemptions, exemption.MatchExact)

	col, err := collector.New(resolved.Archetype.Config.BlacklistPatterns, resolved.Archetype.Config.WhitelistPatterns, logger)
	if err != nil {
		return nil, fmt.Errorf("build file collector: %w", err)
	}
	files, err := col.Collect(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}

	registry := operators.NewRegistry()
	ld := loader.New(registry, logger,
		loader.WithRulesSearchPath(opts.RulesSearchPath),
		loader.WithOpenAIEnabled(opts.OpenAIEnabled),
	)

	// Validation passes: ResolveFacts/ResolveOperators warn and skip
	// unknown archetype-declared names but do not gate which facts the
	// runner wires up or which operators the registry holds -- those are
	// fixed, static catalogs (spec.md §4.3). An archetype declaring
	// strict:true escalates any unknown name to a fatal LoaderMissing
	// error instead (spec.md §7).
	strict := resolved.Archetype.Strict
	if _, err := ld.ResolveFacts(resolved.Archetype.Facts, strict); err != nil {
		return nil, err
	}
	if _, err := ld.ResolveFacts(resolved.AdditionalFacts, strict); err != nil {
		return nil, err
	}
	if _, err := ld.ResolveOperators(resolved.Archetype.Operators, strict); err != nil {
		return nil, err
	}
	if _, err := ld.ResolveOperators(resolved.AdditionalOperators, strict); err != nil {
		return nil, err
	}

	rules := ld.ResolveRules(resolved.Archetype.Rules, nil, opts.ConfigServer)
	inline := config.RepoLocalConfig{AdditionalRules: resolved.AdditionalRuleDocs}.DecodeInlineRules(logger)
	rules = mergeArchetypeWins(rules, inline, logger)

	rules = exemptEngine.ApplyExemptions(rules, opts.RepoURL, time.Now())

	newHost := func() (*rulesengine.Host, error) {
		host, hostErr := rulesengine.NewHost(registry, logger)
		if hostErr != nil {
			return nil, hostErr
		}
		for _, rule := range rules {
			if addErr := host.AddRule(rule); addErr != nil {
				return nil, addErr
			}
		}
		host.OnSuccess(func(res rulesengine.RuleResult) {
			e.telemetry.Send(telemetry.EventViolation, map[string]any{
				"ruleName": res.Name,
				"level":    string(res.Event.Type),
			})
		})
		return host, nil
	}

	deps := runner.DependencyInputs{
		Installed: readInstalledDependencies(opts.Dir, logger),
		Minimum:   resolved.Archetype.Config.MinimumDependencyVersions,
	}

	run := runner.New(newHost, resolved.Archetype.Config.StandardStructure, deps, opts.MaxConcurrentFiles, logger)

	if opts.Mode == "vscode" && e.progress != nil {
		run.OnFileDone(func(fd xfitypes.FileData, ruleCount int, elapsed time.Duration) {
			e.progress.Broadcast(progress.Event{File: fd.FilePath, RuleCount: ruleCount, Elapsed: elapsed})
		})
	}

	scanResults, runErr := run.Run(ctx, files)
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("run analysis: %w: %w", xfierrors.ErrCancelled, runErr)
		}
		return nil, fmt.Errorf("run analysis: %w", runErr)
	}

	issueDetails := scanResultsWithFindings(scanResults)
	stats := run.Stats()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &xfitypes.XFIResult{
		Archetype:       opts.Archetype,
		RepoPath:        opts.Dir,
		RepoURL:         opts.RepoURL,
		FileCount:       countNonGlobalCheck(files),
		GlobalChecksRun: int(stats.GlobalChecksRun.Load()),
		IssueDetails:    issueDetails,
		MemoryUsageMB:   float64(memStats.Alloc) / (1024 * 1024),
		FactMetrics: map[string]float64{
			"filesProcessed": float64(stats.FilesProcessed.Load()),
			"rulesEvaluated": float64(stats.RulesEvaluated.Load()),
		},
		Options: xfitypes.Options{
			Dir:                opts.Dir,
			Archetype:          opts.Archetype,
			ConfigServer:       opts.ConfigServer,
			LocalConfigPath:    opts.LocalOverlayDir,
			TelemetryCollector: opts.TelemetryCollector,
			OutputFormat:       "json",
			Mode:               opts.Mode,
		},
		TelemetryData: xfitypes.TelemetryData{
			RepoURL:      opts.RepoURL,
			ConfigServer: opts.ConfigServer,
			HostInfo:     hostInfo(),
			UserInfo:     userInfo(),
		},
		RepoXFIConfig: map[string]any{
			"additionalRules":             len(resolved.AdditionalRuleDocs),
			"additionalFacts":             resolved.AdditionalFacts,
			"additionalOperators":         resolved.AdditionalOperators,
			"additionalPlugins":           resolved.AdditionalPlugins,
			"sensitiveFileFalsePositives": resolved.SensitiveFileFalsePositives,
		},
	}, nil
}

// hostInfo and userInfo populate TelemetryData's ambient host/user
// identification fields, best-effort -- a lookup failure yields "unknown"
// rather than aborting the run.
func hostInfo() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func userInfo() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}

// countNonGlobalCheck counts the real files collector.Collect returned,
// excluding the REPO_GLOBAL_CHECK sentinel it always appends -- fileCount
// reports real files only, with global-check activity reported separately
// via GlobalChecksRun (spec.md §4.7).
func countNonGlobalCheck(files []xfitypes.FileData) int {
	n := 0
	for _, fd := range files {
		if !fd.IsGlobalCheck() {
			n++
		}
	}
	return n
}

// scanResultsWithFindings drops per-file entries with no fired rule,
// matching the artifact shape in spec.md §4.7 (issueDetails only lists
// files that actually produced a RuleFailure).
func scanResultsWithFindings(scans []xfitypes.ScanResult) []xfitypes.ScanResult {
	out := make([]xfitypes.ScanResult, 0, len(scans))
	for _, s := range scans {
		if len(s.Errors) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// mergeArchetypeWins appends inline (repo-local additionalRules) rules to
// resolved (already archetype-then-repo-named, in registration order),
// skipping any inline rule whose name was already registered -- the same
// archetype-wins de-duplication loader.ResolveRules applies to named
// rules, extended here to cover repo-local inline rule bodies too.
func mergeArchetypeWins(resolved, inline []rulesengine.Rule, logger *slog.Logger) []rulesengine.Rule {
	seen := make(map[string]bool, len(resolved))
	for _, r := range resolved {
		seen[r.Name] = true
	}
	out := resolved
	for _, r := range inline {
		if seen[r.Name] {
			logger.Warn("inline repo-local rule duplicates an already-registered rule, skipping", "name", r.Name)
			continue
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out
}

// tallyLevels counts every fired rule's level across res.IssueDetails into
// the four summary counters and recomputes TotalIssues, enforcing the
// invariant XFIResult.Recount documents.
func tallyLevels(res *xfitypes.XFIResult) {
	res.WarningCount, res.ErrorCount, res.FatalityCount, res.ExemptCount = 0, 0, 0, 0
	for _, scan := range res.IssueDetails {
		for _, failure := range scan.Errors {
			switch failure.Level {
			case xfitypes.LevelWarning:
				res.WarningCount++
			case xfitypes.LevelError:
				res.ErrorCount++
			case xfitypes.LevelFatality:
				res.FatalityCount++
			case xfitypes.LevelExempt:
				res.ExemptCount++
			}
		}
	}
	res.Recount()
}

// readInstalledDependencies reads {repoPath}/package.json's "dependencies"
// and "devDependencies" maps, feeding the "dependencyData" fact's
// installed side. A missing or unparseable package.json yields an empty
// map rather than an error -- not every archetype is a Node project.
func readInstalledDependencies(repoPath string, logger *slog.Logger) map[string]string {
	data, err := os.ReadFile(filepath.Join(repoPath, "package.json"))
	if err != nil {
		return map[string]string{}
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		logger.Warn("package.json present but unparseable, ignoring installed dependency versions", "error", err)
		return map[string]string{}
	}

	installed := make(map[string]string, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for name, version := range pkg.Dependencies {
		installed[name] = version
	}
	for name, version := range pkg.DevDependencies {
		installed[name] = version
	}
	return installed
}
