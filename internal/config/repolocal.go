package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xfidelity/xfidelity/internal/loader"
	"github.com/xfidelity/xfidelity/internal/rulesengine"
)

// xfiConfigFileName is the repo-local override file spec.md §4.2 step 4
// reads, if present, at the root of the analyzed repo.
const xfiConfigFileName = ".xfiConfig.json"

// RepoLocalConfig is the shape of a repo's .xfiConfig.json: additive
// extensions layered on top of the resolved archetype, never a wholesale
// override (spec.md §4.2 step 4).
type RepoLocalConfig struct {
	AdditionalRules             []json.RawMessage `json:"additionalRules"`
	AdditionalFacts             []string          `json:"additionalFacts"`
	AdditionalOperators         []string          `json:"additionalOperators"`
	AdditionalPlugins           []string          `json:"additionalPlugins"`
	SensitiveFileFalsePositives []string          `json:"sensitiveFileFalsePositives"`
}

// LoadRepoLocal reads repoPath's .xfiConfig.json, if present. A missing
// file returns a zero-value RepoLocalConfig and no error -- most repos
// don't declare one.
func LoadRepoLocal(repoPath string) (RepoLocalConfig, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, xfiConfigFileName))
	if os.IsNotExist(err) {
		return RepoLocalConfig{}, nil
	}
	if err != nil {
		return RepoLocalConfig{}, fmt.Errorf("read %s: %w", xfiConfigFileName, err)
	}

	var cfg RepoLocalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RepoLocalConfig{}, fmt.Errorf("parse %s: %w", xfiConfigFileName, err)
	}
	return cfg, nil
}

// DecodeInlineRules parses every additionalRules entry into a
// rulesengine.Rule via loader.DecodeInlineRule, logging and skipping any
// that fail to parse rather than aborting the whole repo-local overlay.
func (c RepoLocalConfig) DecodeInlineRules(logger *slog.Logger) []rulesengine.Rule {
	if logger == nil {
		logger = slog.Default()
	}
	rules := make([]rulesengine.Rule, 0, len(c.AdditionalRules))
	for i, raw := range c.AdditionalRules {
		rule, err := loader.DecodeInlineRule(raw)
		if err != nil {
			logger.Warn("repo-local additionalRules entry failed to parse, skipping", "index", i, "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}
