// Package loader implements the C3 Plugin/Fact/Operator/Rule Loader:
// resolving named facts, operators, and rule JSON from local paths, a
// remote config server, and repo-declared extensions, with OpenAI-prefix
// gating and archetype-wins de-duplication (spec.md §4.3). Structurally
// grounded on internal/policy/loader.go's Loader.LoadFromConfig: compile
// (here, parse) each named item, log and skip on failure rather than
// aborting the whole load, and return an ordered slice recording
// registration order.
package loader

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xfidelity/xfidelity/internal/operators"
	"github.com/xfidelity/xfidelity/internal/rulesengine"
	"github.com/xfidelity/xfidelity/internal/xfierrors"
)

// openAIPrefix is the reserved name prefix gating an extension behind the
// ambient OPENAI_API_KEY and the archetype's openaiEnabled flag.
const openAIPrefix = "openai"

// knownFacts is the static in-process catalog of fact names the runner
// knows how to produce per file (spec.md §4.3's "static in-process
// catalog keyed by name").
var knownFacts = map[string]bool{
	"fileData":               true,
	"dependencyData":         true,
	"standardStructure":      true,
	"repoDependencyAnalysis": true,
}

// Loader resolves archetype-declared fact/operator/rule names into
// evaluation-ready objects.
type Loader struct {
	httpClient   *http.Client
	rulesPath    string
	operators    *operators.Registry
	openaiEnabled bool
	logger       *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithRulesSearchPath sets the local directory searched for
// "{ruleName}-rule.json" files.
func WithRulesSearchPath(path string) Option {
	return func(l *Loader) { l.rulesPath = path }
}

// WithOpenAIEnabled toggles the archetype's openaiEnabled flag, gating
// openai-prefixed extension names alongside the ambient OPENAI_API_KEY.
func WithOpenAIEnabled(enabled bool) Option {
	return func(l *Loader) { l.openaiEnabled = enabled }
}

// WithHTTPClient overrides the default HTTP client used for remote rule
// fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) { l.httpClient = client }
}

// New creates a Loader over the given operator registry.
func New(registry *operators.Registry, logger *slog.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		operators:  registry,
		logger:     logger.With("component", "loader.Loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// openAIGated reports whether name is an openai-prefixed extension that
// should be silently skipped because either OPENAI_API_KEY is unset or
// openaiEnabled is false.
func (l *Loader) openAIGated(name string) bool {
	if !strings.HasPrefix(name, openAIPrefix) {
		return false
	}
	return os.Getenv("OPENAI_API_KEY") == "" || !l.openaiEnabled
}

// ResolveFacts filters names down to those present in the known fact
// catalog. An unknown name is logged and skipped on a lenient archetype;
// on a strict archetype (spec.md §7) it aborts resolution entirely,
// returning xfierrors.ErrLoaderMissing.
func (l *Loader) ResolveFacts(names []string, strict bool) ([]string, error) {
	resolved := make([]string, 0, len(names))
	for _, name := range names {
		if l.openAIGated(name) {
			continue
		}
		if !knownFacts[name] {
			if strict {
				return nil, fmt.Errorf("%w: unknown fact %q", xfierrors.ErrLoaderMissing, name)
			}
			l.logger.Warn("unknown fact name, skipping", "name", name)
			continue
		}
		resolved = append(resolved, name)
	}
	return resolved, nil
}

// ResolveOperators filters names down to those registered in the operator
// registry. An unknown name is logged and skipped on a lenient archetype;
// on a strict archetype (spec.md §7) it aborts resolution entirely,
// returning xfierrors.ErrLoaderMissing.
func (l *Loader) ResolveOperators(names []string, strict bool) ([]string, error) {
	resolved := make([]string, 0, len(names))
	for _, name := range names {
		if l.openAIGated(name) {
			continue
		}
		if _, ok := l.operators.Get(name); !ok {
			if strict {
				return nil, fmt.Errorf("%w: unknown operator %q", xfierrors.ErrLoaderMissing, name)
			}
			l.logger.Warn("unknown operator name, skipping", "name", name)
			continue
		}
		resolved = append(resolved, name)
	}
	return resolved, nil
}

// ResolveRules loads rule JSON for every name in archetypeRuleNames
// followed by repoRuleNames, against the given config server (may be
// empty to force local-only resolution). Rules whose name was already
// registered from archetypeRuleNames are skipped when encountered again
// among repoRuleNames, with a warning -- the archetype's copy always
// wins, and this ordering is observable via the returned slice's order.
func (l *Loader) ResolveRules(archetypeRuleNames, repoRuleNames []string, configServer string) []rulesengine.Rule {
	seen := map[string]bool{}
	var rules []rulesengine.Rule

	load := func(name string, isRepoLocal bool) {
		if l.openAIGated(name) {
			return
		}
		if seen[name] {
			if isRepoLocal {
				l.logger.Warn("repo-local rule duplicates archetype rule, skipping", "name", name)
			}
			return
		}
		rule, err := l.loadRule(name, configServer)
		if err != nil {
			l.logger.Warn("failed to load rule, skipping", "name", name, "error", err)
			return
		}
		seen[name] = true
		rules = append(rules, rule)
	}

	for _, name := range archetypeRuleNames {
		load(name, false)
	}
	for _, name := range repoRuleNames {
		load(name, true)
	}
	return rules
}

// loadRule fetches one rule, preferring the remote config server (when
// configured) and falling back to the local rules search path on
// failure, per spec.md §4.3.
func (l *Loader) loadRule(name, configServer string) (rulesengine.Rule, error) {
	if configServer != "" {
		raw, err := l.fetchRemoteRule(configServer, name)
		if err == nil {
			return parseRuleDocument(raw)
		}
		l.logger.Warn("remote rule fetch failed, falling back to local", "name", name, "error", err)
	}
	raw, err := l.readLocalRule(name)
	if err != nil {
		return rulesengine.Rule{}, err
	}
	return parseRuleDocument(raw)
}

func (l *Loader) readLocalRule(name string) ([]byte, error) {
	if l.rulesPath == "" {
		return nil, fmt.Errorf("no local rules search path configured for rule %q", name)
	}
	path := filepath.Join(l.rulesPath, name+"-rule.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read local rule %q: %w", name, err)
	}
	return data, nil
}

func (l *Loader) fetchRemoteRule(configServer, name string) ([]byte, error) {
	url := strings.TrimRight(configServer, "/") + "/rules/" + name
	resp, err := l.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body from %s: %w", url, err)
	}
	return body, nil
}

// DecodeInlineRule parses a rule already held in memory (e.g. a repo's
// .xfiConfig.json-declared additionalRules entry) without touching disk
// or network.
func DecodeInlineRule(raw json.RawMessage) (rulesengine.Rule, error) {
	return parseRuleDocument(raw)
}
