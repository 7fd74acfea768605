package collector

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestEmptyWhitelist covers spec.md §8 scenario 1: an empty whitelist with
// a node_modules blacklist over a repo with one source file should yield
// zero collected files (plus the sentinel).
func TestEmptyWhitelist(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.js"), "console.log('hi')")

	c, err := New([]string{"node_modules"}, []string{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	files, err := c.Collect(dir)
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if len(files) != 1 || !files[0].IsGlobalCheck() {
		t.Fatalf("files = %+v, want only the REPO_GLOBAL_CHECK sentinel", files)
	}
}

func TestBlacklistWinsOverWhitelist(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "node_modules", "pkg", "index.js"), "module.exports = {}")
	writeFile(t, filepath.Join(dir, "src", "index.js"), "console.log('hi')")

	c, err := New([]string{"node_modules"}, []string{`\.js$`}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	files, err := c.Collect(dir)
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %+v, want 1 real file + sentinel", files)
	}
	if files[0].RelativePath != filepath.Join("src", "index.js") {
		t.Fatalf("RelativePath = %q", files[0].RelativePath)
	}
}

func TestMonotonicity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "a")
	writeFile(t, filepath.Join(dir, "b.js"), "b")

	base, err := New(nil, []string{`\.js$`}, nil)
	if err != nil {
		t.Fatal(err)
	}
	before, err := base.Collect(dir)
	if err != nil {
		t.Fatal(err)
	}

	withExtraBlacklist, err := New([]string{"a\\.js$"}, []string{`\.js$`}, nil)
	if err != nil {
		t.Fatal(err)
	}
	after, err := withExtraBlacklist.Collect(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(after) >= len(before) {
		t.Fatalf("adding a blacklist pattern must not grow the result: before=%d after=%d", len(before), len(after))
	}
}

func TestDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "z.js"), "z")
	writeFile(t, filepath.Join(dir, "a.js"), "a")

	c, err := New(nil, []string{`\.js$`}, nil)
	if err != nil {
		t.Fatal(err)
	}
	files, err := c.Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 || files[0].FileName != "a.js" || files[1].FileName != "z.js" {
		t.Fatalf("expected lexicographic order, got %+v", files)
	}
}

func TestPathTraversalGuard(t *testing.T) {
	outsideDir := t.TempDir()
	writeFile(t, filepath.Join(outsideDir, "secret.js"), "secret")

	repoDir := t.TempDir()
	writeFile(t, filepath.Join(repoDir, "real.js"), "real")
	if err := os.Symlink(outsideDir, filepath.Join(repoDir, "escape")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	c, err := New(nil, []string{`\.js$`}, nil)
	if err != nil {
		t.Fatal(err)
	}
	files, err := c.Collect(repoDir)
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	for _, f := range files {
		if f.FileName == "secret.js" {
			t.Fatalf("collected file outside repo root via symlink: %+v", f)
		}
	}
}
