package rules

import (
	"context"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Source provides a complete RuleSet. Implementations may block (file or API reads);
// the engine calls Load once per load or reload.
type Source interface {
	Load(ctx context.Context) (RuleSet, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (RuleSet, error)

func (f SourceFunc) Load(ctx context.Context) (RuleSet, error) {
	return f(ctx)
}

// StaticSource serves an in-memory RuleSet.
type StaticSource RuleSet

func (s StaticSource) Load(context.Context) (RuleSet, error) {
	out := RuleSet(s)
	out.Rules = append([]Rule(nil), s.Rules...)
	return out, nil
}

// FileSource reads a YAML (or JSON) rule set from Path.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (RuleSet, error) {
	if err := ctx.Err(); err != nil {
		return RuleSet{}, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("rules: read %s: %w", s.Path, err)
	}
	set, err := ParseYAML(data)
	if err != nil {
		return RuleSet{}, fmt.Errorf("rules: %s: %w", s.Path, err)
	}
	return set, nil
}

// ParseYAML decodes a rule set document. Unknown fields are rejected.
//
//	domain: manufacturing
//	version: 1.0.0
//	rules:
//	  - id: cnc-milling
//	    capability: cnc machining
//	    satisfiesRequirements: [milling, machining]
//	    confidence: 0.95
func ParseYAML(data []byte) (RuleSet, error) {
	var set RuleSet
	if err := yaml.UnmarshalStrict(data, &set); err != nil {
		return RuleSet{}, fmt.Errorf("decode rule set: %w", err)
	}
	return set, nil
}
