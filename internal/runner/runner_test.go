package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xfidelity/xfidelity/internal/operators"
	"github.com/xfidelity/xfidelity/internal/rulesengine"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

func hostFactory(rules ...rulesengine.Rule) HostFactory {
	return func() (*rulesengine.Host, error) {
		host, err := rulesengine.NewHost(operators.NewRegistry(), nil)
		if err != nil {
			return nil, err
		}
		for _, rule := range rules {
			if err := host.AddRule(rule); err != nil {
				return nil, err
			}
		}
		return host, nil
	}
}

func noIndexJSRule() rulesengine.Rule {
	return rulesengine.Rule{
		Name: "noIndexJs",
		Condition: rulesengine.Condition{
			Kind: rulesengine.KindPredicate, Fact: "fileData", Path: "FileName",
			Operator: "equals", Value: "index.js",
		},
		Event: rulesengine.Event{Type: xfitypes.LevelError, Params: map[string]any{"message": "no index.js"}},
	}
}

func TestRunProducesSortedResultsForEachFile(t *testing.T) {
	files := []xfitypes.FileData{
		{FileName: "zebra.js", FilePath: "b/zebra.js"},
		{FileName: "index.js", FilePath: "a/index.js"},
	}
	r := New(hostFactory(noIndexJSRule()), nil, DependencyInputs{}, 2, nil)

	results, err := r.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].FilePath != "a/index.js" || results[1].FilePath != "b/zebra.js" {
		t.Fatalf("expected results sorted by FilePath, got %+v", results)
	}
	if len(results[0].Errors) != 1 || results[0].Errors[0].RuleFailure != "noIndexJs" {
		t.Fatalf("expected index.js to fail noIndexJs, got %+v", results[0].Errors)
	}
	if len(results[1].Errors) != 0 {
		t.Fatalf("expected zebra.js to have no failures, got %+v", results[1].Errors)
	}
	if r.Stats().FilesProcessed.Load() != 2 {
		t.Fatalf("expected FilesProcessed=2, got %d", r.Stats().FilesProcessed.Load())
	}
}

func TestGlobalCheckIncrementsGlobalChecksStat(t *testing.T) {
	files := []xfitypes.FileData{xfitypes.RepoGlobalCheck}
	r := New(hostFactory(noIndexJSRule()), nil, DependencyInputs{}, 1, nil)

	if _, err := r.Run(context.Background(), files); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Stats().GlobalChecksRun.Load() != 1 {
		t.Fatalf("expected GlobalChecksRun=1, got %d", r.Stats().GlobalChecksRun.Load())
	}
}

func TestHostConstructionFailureClassifiedAsPluginNotAborted(t *testing.T) {
	boom := func() (*rulesengine.Host, error) { return nil, fmt.Errorf("boom") }
	r := New(boom, nil, DependencyInputs{}, 1, nil)

	results, err := r.Run(context.Background(), []xfitypes.FileData{{FileName: "a.js", FilePath: "a.js"}})
	if err != nil {
		t.Fatalf("expected host-construction fault to be classified, not abort Run, got err: %v", err)
	}
	if len(results) != 1 || len(results[0].Errors) != 1 {
		t.Fatalf("expected one classified failure, got %+v", results)
	}
	failure := results[0].Errors[0]
	if failure.Details["source"] != string(xfitypes.SourcePlugin) {
		t.Fatalf("expected plugin source, got %+v", failure.Details)
	}
	if failure.Level != xfitypes.LevelFatality {
		t.Fatalf("expected fatality level for a host-construction fault, got %v", failure.Level)
	}
}

func TestOperatorFaultClassifiedAsOperatorSource(t *testing.T) {
	registry := operators.NewRegistry()
	registry.Register("alwaysErrors", func(_, _ any) (bool, error) { return false, errors.New("operator exploded") })

	rule := rulesengine.Rule{
		Name: "badOperator",
		Condition: rulesengine.Condition{
			Kind: rulesengine.KindPredicate, Fact: "fileData", Path: "FileName",
			Operator: "alwaysErrors", Value: "x",
		},
		Event: rulesengine.Event{Type: xfitypes.LevelError},
	}
	factory := func() (*rulesengine.Host, error) {
		host, err := rulesengine.NewHost(registry, nil)
		if err != nil {
			return nil, err
		}
		return host, host.AddRule(rule)
	}

	r := New(factory, nil, DependencyInputs{}, 1, nil)
	results, err := r.Run(context.Background(), []xfitypes.FileData{{FileName: "a.js", FilePath: "a.js"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results[0].Errors) != 1 {
		t.Fatalf("expected one classified failure, got %+v", results[0].Errors)
	}
	failure := results[0].Errors[0]
	if failure.Details["source"] != string(xfitypes.SourceOperator) {
		t.Fatalf("expected operator source, got %+v", failure.Details)
	}
	if failure.RuleFailure != "badOperator" {
		t.Fatalf("expected failure attributed to badOperator, got %q", failure.RuleFailure)
	}
}

func TestFatalErrorBehaviorEscalatesOperatorFaultToFatality(t *testing.T) {
	registry := operators.NewRegistry()
	registry.Register("alwaysErrors", func(_, _ any) (bool, error) { return false, errors.New("boom") })

	rule := rulesengine.Rule{
		Name: "fatalRule",
		Condition: rulesengine.Condition{
			Kind: rulesengine.KindPredicate, Fact: "fileData", Path: "FileName",
			Operator: "alwaysErrors", Value: "x",
		},
		Event:         rulesengine.Event{Type: xfitypes.LevelError},
		ErrorBehavior: rulesengine.ErrorBehaviorFatal,
	}
	factory := func() (*rulesengine.Host, error) {
		host, err := rulesengine.NewHost(registry, nil)
		if err != nil {
			return nil, err
		}
		return host, host.AddRule(rule)
	}

	r := New(factory, nil, DependencyInputs{}, 1, nil)
	results, err := r.Run(context.Background(), []xfitypes.FileData{{FileName: "a.js", FilePath: "a.js"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Errors[0].Level != xfitypes.LevelFatality {
		t.Fatalf("expected errorBehavior=fatal to escalate to fatality, got %v", results[0].Errors[0].Level)
	}
}

func TestOnErrorActionDispatchedWithoutAlteringClassification(t *testing.T) {
	registry := operators.NewRegistry()
	registry.Register("alwaysErrors", func(_, _ any) (bool, error) { return false, errors.New("boom") })

	rule := rulesengine.Rule{
		Name: "withAction",
		Condition: rulesengine.Condition{
			Kind: rulesengine.KindPredicate, Fact: "fileData", Path: "FileName",
			Operator: "alwaysErrors", Value: "x",
		},
		Event:   rulesengine.Event{Type: xfitypes.LevelError},
		OnError: &rulesengine.OnError{Action: "notify", Params: map[string]any{"channel": "eng"}},
	}
	factory := func() (*rulesengine.Host, error) {
		host, err := rulesengine.NewHost(registry, nil)
		if err != nil {
			return nil, err
		}
		return host, host.AddRule(rule)
	}

	r := New(factory, nil, DependencyInputs{}, 1, nil)
	var dispatched ActionContext
	called := false
	r.RegisterAction("notify", func(ctx ActionContext) error {
		called = true
		dispatched = ctx
		return nil
	})

	results, err := r.Run(context.Background(), []xfitypes.FileData{{FileName: "a.js", FilePath: "a.js"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !called {
		t.Fatal("expected onError action to be dispatched")
	}
	if dispatched.Rule.Name != "withAction" || dispatched.Params["channel"] != "eng" {
		t.Fatalf("expected action context to carry rule and params, got %+v", dispatched)
	}
	if results[0].Errors[0].Details["source"] != string(xfitypes.SourceOperator) {
		t.Fatalf("expected action dispatch not to alter classification, got %+v", results[0].Errors[0])
	}
}

func TestContextCancellationStopsEnqueueingNewFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(hostFactory(noIndexJSRule()), nil, DependencyInputs{}, 1, nil)
	_, err := r.Run(ctx, []xfitypes.FileData{{FileName: "index.js", FilePath: "index.js"}})
	if err == nil {
		t.Fatal("expected a cancellation error from a pre-cancelled context")
	}
}
