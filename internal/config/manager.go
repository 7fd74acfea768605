package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xfidelity/xfidelity/internal/archetype"
	"github.com/xfidelity/xfidelity/internal/configcache"
	"github.com/xfidelity/xfidelity/internal/exemption"
	"github.com/xfidelity/xfidelity/internal/xfierrors"
)

// ResolvedConfig is the fully-merged, schema-validated result of
// resolving one archetype for one analysis run (spec.md §4.2's
// ResolvedConfig).
type ResolvedConfig struct {
	Archetype                   archetype.ArchetypeConfig
	AdditionalRuleDocs          []json.RawMessage
	AdditionalFacts             []string
	AdditionalOperators         []string
	AdditionalPlugins           []string
	SensitiveFileFalsePositives []string
}

// Manager resolves archetypes and exemptions through the full precedence
// chain described in spec.md §4.2, memoizing each (archetype, repoPath)
// pair for the lifetime of one analysis run -- the "process-local
// single-run memo" over the C9 TTL cache. Grounded on the teacher's
// Engine.mu-guarded hot-swappable state: a mutex-protected map rather
// than sync.Once per key, since a run may resolve more than one
// archetype name (rare, but the memo must not assume exactly one).
type Manager struct {
	cache        *configcache.Cache
	httpClient   *http.Client
	overlayDir   string
	configServer string
	logger       *slog.Logger

	mu   sync.Mutex
	memo map[string]ResolvedConfig
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocalOverlayDir sets the directory searched for "{archetype}.json"
// local overlay files (spec.md §4.2 step 3).
func WithLocalOverlayDir(dir string) Option {
	return func(m *Manager) { m.overlayDir = dir }
}

// WithConfigServer sets the remote config server base URL consulted for
// step 2's `GET {configServer}/archetypes/{archetype}`. Empty disables
// the remote step entirely.
func WithConfigServer(url string) Option {
	return func(m *Manager) { m.configServer = url }
}

// WithHTTPClient overrides the default HTTP client used for remote
// fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// NewManager creates a Manager over a shared configcache.Cache (the C9 TTL
// cache; pass a fresh one if the caller doesn't otherwise maintain one).
func NewManager(cache *configcache.Cache, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cache:      cache,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "config.Manager"),
		memo:       map[string]ResolvedConfig{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func memoKey(archetypeName, repoPath string) string {
	return archetypeName + "@" + repoPath
}

// Resolve implements spec.md §4.2's resolve(archetype, configServer?,
// localConfigPath?) operation: built-in ∪ remote ∪ local overlay ∪
// repo-local .xfiConfig.json, schema-validated, memoized for the rest of
// this process's lifetime against (archetypeName, repoPath).
func (m *Manager) Resolve(archetypeName, repoPath string) (ResolvedConfig, error) {
	key := memoKey(archetypeName, repoPath)

	m.mu.Lock()
	if cached, ok := m.memo[key]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	resolved, err := m.resolve(archetypeName, repoPath)
	if err != nil {
		return ResolvedConfig{}, err
	}

	m.mu.Lock()
	m.memo[key] = resolved
	m.mu.Unlock()
	return resolved, nil
}

func (m *Manager) resolve(archetypeName, repoPath string) (ResolvedConfig, error) {
	cfg, err := archetype.Builtin(archetypeName)
	if err != nil {
		m.logger.Warn("no built-in archetype, starting from an empty base", "archetype", archetypeName, "error", err)
		cfg = archetype.ArchetypeConfig{Name: archetypeName}
	}

	if remote, ok := m.fetchRemote(archetypeName); ok {
		cfg = archetype.Merge(cfg, remote)
	}

	if local, ok := m.readLocalOverlay(archetypeName); ok {
		cfg = archetype.Merge(cfg, local)
	}

	repoLocal, err := LoadRepoLocal(repoPath)
	if err != nil {
		m.logger.Warn("repo-local .xfiConfig.json present but unreadable, ignoring", "error", err)
		repoLocal = RepoLocalConfig{}
	}

	if err := archetype.Validate(cfg); err != nil {
		return ResolvedConfig{}, fmt.Errorf("%w: %v", xfierrors.ErrConfigInvalid, err)
	}

	return ResolvedConfig{
		Archetype:                   cfg,
		AdditionalRuleDocs:          repoLocal.AdditionalRules,
		AdditionalFacts:             repoLocal.AdditionalFacts,
		AdditionalOperators:         repoLocal.AdditionalOperators,
		AdditionalPlugins:           repoLocal.AdditionalPlugins,
		SensitiveFileFalsePositives: repoLocal.SensitiveFileFalsePositives,
	}, nil
}

// fetchRemote fetches the archetype overlay from m.configServer, through
// the shared C9 TTL cache. A cache hit skips the network entirely; a
// fetch failure is logged and treated as "no remote overlay" rather than
// aborting resolution, per spec.md §4.2 step 2's "on failure, (1) is used
// and a warning logged".
func (m *Manager) fetchRemote(archetypeName string) (archetype.ArchetypeConfig, bool) {
	if m.configServer == "" {
		return archetype.ArchetypeConfig{}, false
	}
	if cached, ok := m.cache.Get("archetype", archetypeName); ok {
		cfg, ok := cached.(archetype.ArchetypeConfig)
		return cfg, ok
	}

	url := m.configServer + "/archetypes/" + archetypeName
	resp, err := m.httpClient.Get(url)
	if err != nil {
		m.logger.Warn("remote archetype fetch failed, using built-in", "archetype", archetypeName, "error", err)
		return archetype.ArchetypeConfig{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.logger.Warn("remote archetype fetch failed, using built-in", "archetype", archetypeName, "status", resp.StatusCode)
		return archetype.ArchetypeConfig{}, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		m.logger.Warn("remote archetype fetch body read failed, using built-in", "archetype", archetypeName, "error", err)
		return archetype.ArchetypeConfig{}, false
	}

	var cfg archetype.ArchetypeConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		m.logger.Warn("remote archetype payload invalid, using built-in", "archetype", archetypeName, "error", err)
		return archetype.ArchetypeConfig{}, false
	}

	m.cache.Set("archetype", archetypeName, cfg)
	return cfg, true
}

// readLocalOverlay reads "{overlayDir}/{archetypeName}.json", the step-3
// local overlay directory.
func (m *Manager) readLocalOverlay(archetypeName string) (archetype.ArchetypeConfig, bool) {
	if m.overlayDir == "" {
		return archetype.ArchetypeConfig{}, false
	}
	data, err := os.ReadFile(filepath.Join(m.overlayDir, archetypeName+".json"))
	if err != nil {
		return archetype.ArchetypeConfig{}, false
	}
	var cfg archetype.ArchetypeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		m.logger.Warn("local archetype overlay invalid, ignoring", "archetype", archetypeName, "error", err)
		return archetype.ArchetypeConfig{}, false
	}
	return cfg, true
}

// LoadExemptions loads a remote (if configServer is set) and local (if
// localPath is set) exemptions list and concatenates them -- filtering by
// expiration happens at use time via exemption.Engine.IsExempt, compared
// against the analysis's own start wall-clock.
func (m *Manager) LoadExemptions(localPath string) ([]exemption.Exemption, error) {
	var all []exemption.Exemption

	if m.configServer != "" {
		remote, err := m.fetchRemoteExemptions()
		if err != nil {
			m.logger.Warn("remote exemptions fetch failed, continuing with local only", "error", err)
		} else {
			all = append(all, remote...)
		}
	}

	if localPath != "" {
		local, err := m.readLocalExemptions(localPath)
		if err != nil {
			m.logger.Warn("local exemptions file unreadable, ignoring", "path", localPath, "error", err)
		} else {
			all = append(all, local...)
		}
	}

	return all, nil
}

func (m *Manager) fetchRemoteExemptions() ([]exemption.Exemption, error) {
	resp, err := m.httpClient.Get(m.configServer + "/exemptions")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET exemptions: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var exemptions []exemption.Exemption
	if err := json.Unmarshal(body, &exemptions); err != nil {
		return nil, err
	}
	return exemptions, nil
}

func (m *Manager) readLocalExemptions(path string) ([]exemption.Exemption, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var exemptions []exemption.Exemption
	if err := json.Unmarshal(data, &exemptions); err != nil {
		return nil, err
	}
	return exemptions, nil
}
