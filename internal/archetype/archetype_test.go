package archetype

import "testing"

func TestBuiltinNodeFullstack(t *testing.T) {
	cfg, err := Builtin("node-fullstack")
	if err != nil {
		t.Fatalf("Builtin() error: %v", err)
	}
	if cfg.Name != "node-fullstack" {
		t.Fatalf("Name = %q, want node-fullstack", cfg.Name)
	}
	if len(cfg.Config.BlacklistPatterns) == 0 {
		t.Fatal("expected non-empty blacklist patterns")
	}
}

func TestBuiltinUnknown(t *testing.T) {
	if _, err := Builtin("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown archetype")
	}
}

func TestValidateBuiltinArchetypes(t *testing.T) {
	names, err := BuiltinNames()
	if err != nil {
		t.Fatalf("BuiltinNames() error: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected at least one built-in archetype")
	}
	for _, name := range names {
		cfg, err := Builtin(name)
		if err != nil {
			t.Fatalf("Builtin(%q) error: %v", name, err)
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("Validate(%q) error: %v", name, err)
		}
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	if err := Validate(ArchetypeConfig{}); err == nil {
		t.Fatal("expected schema validation error for empty archetype")
	}
}

func TestMergeOverlaysNonEmptyFields(t *testing.T) {
	base := ArchetypeConfig{
		Name:  "base",
		Rules: []string{"a", "b"},
		Config: Config{
			BlacklistPatterns:         []string{"node_modules"},
			MinimumDependencyVersions: map[string]string{"foo": "1.0.0"},
		},
	}
	over := ArchetypeConfig{
		Rules: []string{"c"},
		Config: Config{
			MinimumDependencyVersions: map[string]string{"bar": "2.0.0"},
		},
	}
	merged := Merge(base, over)
	if merged.Name != "base" {
		t.Fatalf("Name = %q, want base (unset override keeps base)", merged.Name)
	}
	if len(merged.Rules) != 1 || merged.Rules[0] != "c" {
		t.Fatalf("Rules = %v, want [c] (list fields replace wholesale)", merged.Rules)
	}
	if merged.Config.MinimumDependencyVersions["foo"] != "1.0.0" || merged.Config.MinimumDependencyVersions["bar"] != "2.0.0" {
		t.Fatalf("MinimumDependencyVersions = %v, want merged map", merged.Config.MinimumDependencyVersions)
	}
	if len(merged.Config.BlacklistPatterns) != 1 || merged.Config.BlacklistPatterns[0] != "node_modules" {
		t.Fatalf("BlacklistPatterns = %v, want unchanged base", merged.Config.BlacklistPatterns)
	}
}
