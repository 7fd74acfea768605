package archetype

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaDocument enumerates the fields spec.md §4.2 requires on a resolved
// archetype: name, rules, facts, operators, config{...}.
const schemaDocument = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "rules", "facts", "operators", "config"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"rules": {"type": "array", "items": {"type": "string"}},
		"facts": {"type": "array", "items": {"type": "string"}},
		"operators": {"type": "array", "items": {"type": "string"}},
		"config": {
			"type": "object",
			"required": ["minimumDependencyVersions", "standardStructure", "blacklistPatterns", "whitelistPatterns"],
			"properties": {
				"minimumDependencyVersions": {"type": "object"},
				"standardStructure": {"type": "object"},
				"blacklistPatterns": {"type": "array", "items": {"type": "string"}},
				"whitelistPatterns": {"type": "array", "items": {"type": "string"}}
			}
		}
	}
}`

var compiledSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("archetype.json", strings.NewReader(schemaDocument)); err != nil {
		panic(fmt.Errorf("archetype: invalid embedded schema: %w", err))
	}
	schema, err := c.Compile("archetype.json")
	if err != nil {
		panic(fmt.Errorf("archetype: schema compile failed: %w", err))
	}
	compiledSchema = schema
}

// Validate checks cfg against the archetype schema named in spec.md §4.2.
// It round-trips cfg through JSON so that jsonschema validates the same
// shape a remote server or local file would produce.
func Validate(cfg ArchetypeConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("archetype: marshal for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("archetype: unmarshal for validation: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("archetype: schema validation failed: %w", err)
	}
	return nil
}
