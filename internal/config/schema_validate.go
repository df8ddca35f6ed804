package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateAgainstSchema checks the raw decoded document against the
// reflection-derived JSON Schema, catching shape errors (wrong type,
// unknown field under a strict section) that survive YAML/JSON5
// decoding into Config because Go's zero values mask them.
func validateAgainstSchema(raw map[string]any) error {
	schemaBytes, err := JSONSchema()
	if err != nil {
		return fmt.Errorf("config: generate schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("magi-config.json", bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("config: load schema: %w", err)
	}
	schema, err := compiler.Compile("magi-config.json")
	if err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}

	// jsonschema/v5 validates decoded JSON values (float64/string/map/
	// slice), not arbitrary Go types from YAML decoding (e.g. map[any]any
	// nested under $include merges) — round-trip through encoding/json
	// to normalize.
	doc, err := normalizeForSchema(raw)
	if err != nil {
		return fmt.Errorf("config: normalize document: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Issues: []string{err.Error()}}
	}
	return nil
}

func normalizeForSchema(raw map[string]any) (any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
