// Package config implements the C2 Config Manager (spec.md §4.2):
// resolving an archetype through its full precedence chain, loading
// exemptions, and -- an ambient addition the distilled spec omits --
// the CLI-level defaults file every invocation of the analyzer reads
// before flags are applied.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// CLIDefaults is xfidelity.yaml's shape: the handful of settings a repo
// wants to pin without repeating them on every invocation. Grounded on
// the teacher's config.Config/DefaultConfig file-plus-env layering style,
// generalized from AgentWarden's server/storage/policy shape down to the
// handful of settings this analyzer's CLI actually takes as flags.
type CLIDefaults struct {
	DefaultArchetype    string `yaml:"defaultArchetype"`
	ConfigServer        string `yaml:"configServer"`
	TelemetryCollector  string `yaml:"telemetryCollector"`
	LogLevel            string `yaml:"logLevel"`
	LocalConfigPath     string `yaml:"localConfigPath"`
	RulesSearchPath     string `yaml:"rulesSearchPath"`
	OpenAIEnabled       bool   `yaml:"openaiEnabled"`
	MaxConcurrentFiles  int    `yaml:"maxConcurrentFiles"`
}

// DefaultCLIDefaults mirrors DefaultConfig()'s zero-config-startup idiom:
// every field has a sane value so an analyzer invocation with no
// xfidelity.yaml at all still runs.
func DefaultCLIDefaults() CLIDefaults {
	return CLIDefaults{
		DefaultArchetype:   "node-fullstack",
		LogLevel:           "info",
		MaxConcurrentFiles: 0, // 0 defers to runner.New's min(NumCPU, 8)
	}
}

// LoadCLIDefaults reads xfidelity.yaml at path, overlaying it onto
// DefaultCLIDefaults. A missing file is not an error -- it simply leaves
// every default in place, the same "no config file present" tolerance
// DefaultConfig() provides for AgentWarden.
func LoadCLIDefaults(path string) (CLIDefaults, error) {
	defaults := DefaultCLIDefaults()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaults, nil
	}
	if err != nil {
		return CLIDefaults{}, err
	}

	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return CLIDefaults{}, err
	}
	return defaults, nil
}
