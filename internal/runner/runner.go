// Package runner implements the C5 Engine Runner: iterates the collected
// file list, assembles each file's fact-value map, drives the rules
// engine host, classifies evaluation exceptions, and aggregates
// ScanResults. The bounded worker pool is grounded on
// pithecene-io-quarry/quarry/runtime/fanout.Operator's semaphore-channel +
// sync.WaitGroup + sync/atomic-counters pattern, adapted from recursive
// child-run fan-out down to flat per-file fan-out (spec.md has no
// recursive work enqueue -- one file is one unit of work, known up
// front).
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xfidelity/xfidelity/internal/facts"
	"github.com/xfidelity/xfidelity/internal/location"
	"github.com/xfidelity/xfidelity/internal/operators"
	"github.com/xfidelity/xfidelity/internal/rulesengine"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// DependencyInputs is the installed/minimum dependency-version pair fed
// into the "dependencyData" fact for every file in a run.
type DependencyInputs struct {
	Installed map[string]string
	Minimum   map[string]string
}

// HostFactory builds a fresh rulesengine.Host for a single file. The
// runner calls this once per file because a Host's compiled programs are
// safe for concurrent use but its companion Almanac is not (spec.md §5:
// "each file owns its almanac") -- isolating at the Host+Almanac pair
// keeps the call site simple and matches one Host per one Almanac, one
// per goroutine.
type HostFactory func() (*rulesengine.Host, error)

// Stats tracks aggregate counters over a run, exposed for factMetrics.
type Stats struct {
	FilesProcessed  atomic.Int64
	GlobalChecksRun atomic.Int64
	RulesEvaluated  atomic.Int64
}

// Runner drives per-file rule evaluation over a bounded worker pool.
type Runner struct {
	newHost           HostFactory
	standardStructure map[string]any
	deps              DependencyInputs
	maxConcurrent     int
	logger            *slog.Logger
	actions           map[string]Action
	onFileDone        func(fd xfitypes.FileData, ruleCount int, elapsed time.Duration)

	stats Stats
}

// New creates a Runner. maxConcurrent <= 0 defaults to
// min(runtime.NumCPU(), 8), per spec.md §5's
// min(cpuCount, maxConcurrentAnalysis) policy.
func New(newHost HostFactory, standardStructure map[string]any, deps DependencyInputs, maxConcurrent int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
		if maxConcurrent > 8 {
			maxConcurrent = 8
		}
	}
	return &Runner{
		newHost:           newHost,
		standardStructure: standardStructure,
		deps:              deps,
		maxConcurrent:     maxConcurrent,
		logger:            logger.With("component", "runner.Runner"),
		actions:           map[string]Action{},
	}
}

// Stats returns a snapshot of the run's aggregate counters.
func (r *Runner) Stats() Stats {
	return r.stats
}

// RegisterAction wires a named onError.action handler, invoked when a
// failing rule declares that action name in its onError clause.
func (r *Runner) RegisterAction(name string, action Action) {
	r.actions[name] = action
}

// OnFileDone registers a callback fired after each file finishes
// evaluation, feeding the A5 editor-host progress push
// (`{file, ruleCount, elapsed}`, SPEC_FULL.md §5). Optional -- a nil
// callback (the default) costs nothing per file.
func (r *Runner) OnFileDone(fn func(fd xfitypes.FileData, ruleCount int, elapsed time.Duration)) {
	r.onFileDone = fn
}

// Run evaluates every file in files against a per-file rules-engine host,
// returning one ScanResult per file, sorted by FilePath for deterministic
// artifact output. Only file evaluation is parallel; this call itself is
// synchronous and returns once every file has been processed or ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context, files []xfitypes.FileData) ([]xfitypes.ScanResult, error) {
	results := make([]xfitypes.ScanResult, len(files))
	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for i, fd := range files {
		select {
		case <-ctx.Done():
			errMu.Lock()
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			errMu.Unlock()
			continue
		default:
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errMu.Lock()
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			errMu.Unlock()
			continue
		}

		wg.Add(1)
		go func(idx int, file xfitypes.FileData) {
			defer wg.Done()
			defer func() { <-sem }()

			fileStart := time.Now()
			scan, ruleCount, err := r.runOne(file)
			if r.onFileDone != nil {
				r.onFileDone(file, ruleCount, time.Since(fileStart))
			}
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			results[idx] = scan

			r.stats.FilesProcessed.Add(1)
			if file.IsGlobalCheck() {
				r.stats.GlobalChecksRun.Add(1)
			}
		}(i, fd)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].FilePath < results[j].FilePath })
	return results, firstErr
}

func (r *Runner) runOne(fd xfitypes.FileData) (xfitypes.ScanResult, int, error) {
	scan := xfitypes.ScanResult{FilePath: fd.FilePath}

	host, err := r.newHost()
	if err != nil {
		scan.Errors = append(scan.Errors, r.classifyError(&HostError{Err: err}, nil))
		return scan, 0, nil
	}

	alm := facts.New()
	alm.AddFact("fileData", 1, nil, func(_ map[string]any, _ *facts.Almanac) (any, error) { return fd, nil })
	alm.AddFact("dependencyData", 1, nil, func(_ map[string]any, _ *facts.Almanac) (any, error) {
		return facts.DependencyData{
			InstalledDependencyVersions: r.deps.Installed,
			MinimumDependencyVersions:   r.deps.Minimum,
		}, nil
	})
	alm.AddFact("standardStructure", 1, nil, func(_ map[string]any, _ *facts.Almanac) (any, error) {
		return r.standardStructure, nil
	})
	alm.AddFact("repoDependencyAnalysis", 1, nil, facts.NewRepoDependencyAnalysisFact(meetsMinimumVersion).Produce)

	results, runErr := safeRun(host, alm)
	r.stats.RulesEvaluated.Add(int64(len(results)))

	if runErr != nil {
		scan.Errors = append(scan.Errors, r.classifyError(runErr, host))
		return scan, len(results), nil
	}

	for _, res := range results {
		if !res.Result {
			continue
		}
		scan.Errors = append(scan.Errors, buildRuleFailure(res))
	}
	return scan, len(results), nil
}

// buildRuleFailure routes a fired rule's event params through the C6
// location extractor (spec.md §2: "C5 drives C4 with each file, routing
// failures through C6 for location enrichment") and folds the result
// into the failure's details under "location".
func buildRuleFailure(res rulesengine.RuleResult) xfitypes.RuleFailure {
	details := res.Event.Params
	if details == nil {
		details = map[string]any{}
	}
	details["location"] = location.Extract(res.Name, details, nil)

	return xfitypes.RuleFailure{
		RuleFailure: res.Name,
		Level:       res.Event.Type,
		Details:     details,
	}
}

// safeRun insulates the file loop from a panicking CEL evaluation (a
// malformed operator binding, for instance), converting it into an error
// the classifier can route through the same pluginError/isOperatorError/
// isFactError/rule table as a returned error -- a rule execution fault
// must never abort the whole analysis (spec.md §4.5).
func safeRun(host *rulesengine.Host, alm *facts.Almanac) (results []rulesengine.RuleResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during rule evaluation: %v", rec)
		}
	}()
	return host.Run(alm)
}

func meetsMinimumVersion(installed, required string) bool {
	cmp, err := operators.CompareVersions(installed, required)
	if err != nil {
		return false
	}
	return cmp >= 0
}
