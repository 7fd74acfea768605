package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() xfitypes.XFIResult {
	return xfitypes.XFIResult{
		Archetype:    "node-fullstack",
		RepoPath:     "/repo",
		RepoURL:      "git@host:org/repo.git",
		StartTime:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		FinishTime:   time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		WarningCount: 2,
		ErrorCount:   1,
		TotalIssues:  3,
	}
}

func TestRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	result := sampleResult()
	if err := s.Record("run-1", result); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.Get("run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalIssues != 3 || got.Archetype != "node-fullstack" {
		t.Fatalf("unexpected round-trip: %+v", got)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	first := sampleResult()
	second := sampleResult()
	second.StartTime = first.StartTime.Add(time.Hour)

	if err := s.Record("run-1", first); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if err := s.Record("run-2", second); err != nil {
		t.Fatalf("record second: %v", err)
	}

	runs, err := s.Recent("/repo", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("expected run-2 first, got %+v", runs)
	}
}

func TestGetUnknownRunErrors(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("missing"); err == nil {
		t.Fatal("expected error for unknown run id")
	}
}
