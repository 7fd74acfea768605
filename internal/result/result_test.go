package result

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

func sampleResult() xfitypes.XFIResult {
	return xfitypes.XFIResult{
		Archetype:    "node-fullstack",
		RepoPath:     "/repo",
		StartTime:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		FinishTime:   time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		WarningCount: 1,
		ErrorCount:   2,
	}
}

// TestWriteThenReadRoundTrip covers spec.md §8's round-trip invariant:
// serializing and re-reading XFI_RESULT.json yields an equal object
// modulo field ordering.
func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	res := sampleResult()

	path, err := Write(dir, res)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != OutputDirName {
		t.Fatalf("expected artifact under %s, got %s", OutputDirName, path)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.TotalIssues != 3 {
		t.Fatalf("expected Recount to have run before persisting, got %d", got.TotalIssues)
	}
	if got.Archetype != res.Archetype {
		t.Fatalf("round-trip mismatch: %+v vs %+v", got, res)
	}
}

func TestWriteOverwritesExistingArtifact(t *testing.T) {
	dir := t.TempDir()
	first := sampleResult()
	if _, err := Write(dir, first); err != nil {
		t.Fatalf("write first: %v", err)
	}

	second := sampleResult()
	second.WarningCount = 9
	path, err := Write(dir, second)
	if err != nil {
		t.Fatalf("write second: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.WarningCount != 9 {
		t.Fatalf("expected overwrite, got %+v", got)
	}
}

func TestUnmarshalAcceptsAllThreeEnvelopes(t *testing.T) {
	bareRes := sampleResult()
	bareRes.Recount()

	cases := map[string][]byte{
		"bare":          mustJSON(t, bareRes),
		"XFI_RESULT":    mustJSON(t, Envelope{XFIResult: bareRes}),
		"result.nested": mustJSON(t, map[string]any{"result": Envelope{XFIResult: bareRes}}),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Unmarshal(raw)
			if err != nil {
				t.Fatalf("unmarshal %s: %v", name, err)
			}
			if got.Archetype != bareRes.Archetype {
				t.Fatalf("%s: unexpected archetype %q", name, got.Archetype)
			}
		})
	}
}

func TestReadMissingFileIsError(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error reading missing artifact")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}
