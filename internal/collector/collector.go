// Package collector walks a repository and emits the FileData records that
// drive one analysis run, applying the archetype's blacklist/whitelist
// regular expressions and guarding against path traversal via symlinks.
// The walk/regex/sorted-entries shape is grounded on the teacher's
// internal/mdloader/loader.go, generalized from Markdown-only discovery to
// the full blacklist/whitelist matching spec.md §4.1 requires.
package collector

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// Collector walks a repository applying compiled blacklist/whitelist
// patterns.
type Collector struct {
	blacklist []*regexp.Regexp
	whitelist []*regexp.Regexp
	logger    *slog.Logger
}

// New compiles the given pattern lists. Patterns are evaluated in order;
// compilation failures are returned immediately since a bad pattern would
// otherwise silently never match.
func New(blacklistPatterns, whitelistPatterns []string, logger *slog.Logger) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bl, err := compileAll(blacklistPatterns)
	if err != nil {
		return nil, fmt.Errorf("collector: compiling blacklist patterns: %w", err)
	}
	wl, err := compileAll(whitelistPatterns)
	if err != nil {
		return nil, fmt.Errorf("collector: compiling whitelist patterns: %w", err)
	}
	return &Collector{
		blacklist: bl,
		whitelist: wl,
		logger:    logger.With("component", "collector.Collector"),
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Collect recursively enumerates repoPath, returning one FileData per
// included file in deterministic pre-order, lexicographic-within-directory
// walk order, followed by the REPO_GLOBAL_CHECK sentinel as the final
// element.
func (c *Collector) Collect(repoPath string) ([]xfitypes.FileData, error) {
	absRoot, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("collector: resolving repo root: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("collector: unreadable repo root %q: %w", repoPath, err)
	}

	var files []xfitypes.FileData
	if err := c.walk(resolvedRoot, resolvedRoot, &files); err != nil {
		return nil, err
	}

	files = append(files, xfitypes.RepoGlobalCheck)
	return files, nil
}

func (c *Collector) walk(root, dir string, out *[]xfitypes.FileData) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("collector: reading directory %q: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		resolved, err := c.resolveWithinRoot(root, path)
		if err != nil {
			c.logger.Warn("skipping entry outside repo root", "path", path, "error", err)
			continue
		}

		if entry.IsDir() {
			if c.matchesAny(c.blacklist, resolved) {
				continue
			}
			if err := c.walk(root, path, out); err != nil {
				return err
			}
			continue
		}

		if c.matchesAny(c.blacklist, resolved) {
			continue
		}
		if !c.matchesAny(c.whitelist, resolved) {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("skipping unreadable file", "path", path, "error", err)
			continue
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		*out = append(*out, xfitypes.FileData{
			FileName:     entry.Name(),
			FilePath:     path,
			RelativePath: rel,
			FileContent:  string(content),
		})
	}

	return nil
}

// resolveWithinRoot resolves symlinks on path and verifies the result still
// lives under root, guarding against path traversal via symlinked entries.
func (c *Collector) resolveWithinRoot(root, path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// Non-existent or broken symlink: treat the unresolved path as
		// authoritative for matching purposes, but still gate on traversal.
		resolved = path
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return "", fmt.Errorf("resolving relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes repo root: %s", path)
	}
	return resolved, nil
}

func (c *Collector) matchesAny(patterns []*regexp.Regexp, path string) bool {
	for _, re := range patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
