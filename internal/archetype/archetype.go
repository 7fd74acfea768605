// Package archetype defines the ArchetypeConfig data model and the
// compile-time built-in catalog, following the teacher's DefaultConfig()
// built-in-defaults idiom (internal/config/config.go) but sourced from
// embedded JSON rather than a hand-built struct literal, since archetypes
// are meant to be authored as data.
package archetype

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed builtin/*.json
var builtinFS embed.FS

// Config is the structural expectation portion of an ArchetypeConfig,
// nested under the top-level "config" key per spec.md §3.
type Config struct {
	MinimumDependencyVersions map[string]string `json:"minimumDependencyVersions"`
	StandardStructure         map[string]any    `json:"standardStructure"`
	BlacklistPatterns         []string          `json:"blacklistPatterns"`
	WhitelistPatterns         []string          `json:"whitelistPatterns"`
}

// ArchetypeConfig binds a named set of rule/fact/operator names and
// structural expectations. It is resolved once per analysis and treated
// as immutable thereafter (spec.md §3).
type ArchetypeConfig struct {
	Name      string   `json:"name"`
	Rules     []string `json:"rules"`
	Facts     []string `json:"facts"`
	Operators []string `json:"operators"`
	Config    Config   `json:"config"`
	Strict    bool     `json:"strict,omitempty"`
}

// Clone returns a deep-enough copy of a so downstream merges never mutate
// a shared built-in instance.
func (a ArchetypeConfig) Clone() ArchetypeConfig {
	out := a
	out.Rules = append([]string(nil), a.Rules...)
	out.Facts = append([]string(nil), a.Facts...)
	out.Operators = append([]string(nil), a.Operators...)
	out.Config.BlacklistPatterns = append([]string(nil), a.Config.BlacklistPatterns...)
	out.Config.WhitelistPatterns = append([]string(nil), a.Config.WhitelistPatterns...)
	minVer := make(map[string]string, len(a.Config.MinimumDependencyVersions))
	for k, v := range a.Config.MinimumDependencyVersions {
		minVer[k] = v
	}
	out.Config.MinimumDependencyVersions = minVer
	return out
}

// Builtin loads a compile-time archetype by name from the embedded catalog.
func Builtin(name string) (ArchetypeConfig, error) {
	data, err := builtinFS.ReadFile(fmt.Sprintf("builtin/%s.json", name))
	if err != nil {
		return ArchetypeConfig{}, fmt.Errorf("archetype: no built-in archetype %q: %w", name, err)
	}
	var cfg ArchetypeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ArchetypeConfig{}, fmt.Errorf("archetype: invalid built-in archetype %q: %w", name, err)
	}
	return cfg, nil
}

// BuiltinNames lists every archetype name baked into the binary.
func BuiltinNames() ([]string, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if len(name) > 5 && name[len(name)-5:] == ".json" {
			names = append(names, name[:len(name)-5])
		}
	}
	return names, nil
}

// Merge overlays `over` on top of a, per field: non-zero/non-empty fields
// in `over` replace the corresponding field in the result. List fields are
// replaced wholesale (not appended) -- each resolution-order step is meant
// to supersede the previous one, per spec.md §4.2.
func Merge(base, over ArchetypeConfig) ArchetypeConfig {
	result := base.Clone()
	if over.Name != "" {
		result.Name = over.Name
	}
	if len(over.Rules) > 0 {
		result.Rules = append([]string(nil), over.Rules...)
	}
	if len(over.Facts) > 0 {
		result.Facts = append([]string(nil), over.Facts...)
	}
	if len(over.Operators) > 0 {
		result.Operators = append([]string(nil), over.Operators...)
	}
	if len(over.Config.MinimumDependencyVersions) > 0 {
		merged := make(map[string]string, len(result.Config.MinimumDependencyVersions)+len(over.Config.MinimumDependencyVersions))
		for k, v := range result.Config.MinimumDependencyVersions {
			merged[k] = v
		}
		for k, v := range over.Config.MinimumDependencyVersions {
			merged[k] = v
		}
		result.Config.MinimumDependencyVersions = merged
	}
	if len(over.Config.StandardStructure) > 0 || (result.Config.StandardStructure == nil && over.Config.StandardStructure != nil) {
		result.Config.StandardStructure = over.Config.StandardStructure
	}
	if len(over.Config.BlacklistPatterns) > 0 {
		result.Config.BlacklistPatterns = append([]string(nil), over.Config.BlacklistPatterns...)
	}
	if len(over.Config.WhitelistPatterns) > 0 {
		result.Config.WhitelistPatterns = append([]string(nil), over.Config.WhitelistPatterns...)
	}
	if over.Strict {
		result.Strict = true
	}
	return result
}
