package probe

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DecodePolicies decodes a raw map (e.g. the `probes:` section of the config
// file) into policies. Status codes may be given as strings.
func DecodePolicies(raw map[string]any) (Policies, error) {
	out := make(Policies, len(raw))
	for name, v := range raw {
		var p Policy
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &p,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(v); err != nil {
			return nil, fmt.Errorf("decode probe policy %q: %w", name, err)
		}
		if p.Name == "" {
			p.Name = name
		}
		out[name] = p
	}
	return out, nil
}

// ReadPolicies parses a YAML document of the form `name: {path: ..., acceptable: [...]}`.
func ReadPolicies(r io.Reader) (Policies, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return Policies{}, nil
		}
		return nil, fmt.Errorf("parse probe policies: %w", err)
	}
	return DecodePolicies(raw)
}

// LoadPolicies reads a policy file and merges it over the defaults.
func LoadPolicies(path string) (Policies, error) {
	if path == "" {
		return DefaultPolicies(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open probe policies: %w", err)
	}
	defer f.Close()

	overrides, err := ReadPolicies(f)
	if err != nil {
		return nil, err
	}
	merged := DefaultPolicies().Merge(overrides)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}
