package probe

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema compiles the body assertions of the policy into a JSON Schema.
// It returns nil when the policy has no body checks.
func (p Policy) Schema() (*jsonschema.Schema, error) {
	if !p.HasBodyChecks() {
		return nil, nil
	}

	properties := make(map[string]any, len(p.ExpectFields))
	required := append([]string(nil), p.RequiredFields...)
	for field, want := range p.ExpectFields {
		properties[field] = map[string]any{"const": want}
		required = append(required, field)
	}

	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"required":   dedupe(required),
		"properties": properties,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal body schema: %w", err)
	}

	url := "mem://canopy/probes/" + p.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
