// Package policy provides external overrides for the validator's allow-list
// and pattern sets, so gating policy can evolve without a code change.
// Policies load from YAML or JSON files; both forms are checked against the
// same JSON Schema before use, and loading is fail-closed.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/vitrine-app/vitrine/pkg/imports"
	"github.com/vitrine-app/vitrine/pkg/rules"
)

// compatRange is the policy schema versions this build accepts.
const compatRange = "^1.0"

// CELRule is an advisory heuristic expressed as a CEL expression over
// extracted source facts. CEL rules only ever produce warnings.
type CELRule struct {
	ID         string `json:"id" yaml:"id"`
	Expression string `json:"expression" yaml:"expression"`
	Message    string `json:"message" yaml:"message"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

// Policy is one loaded policy document.
type Policy struct {
	Version         string       `json:"version" yaml:"version"`
	Name            string       `json:"name" yaml:"name"`
	AllowedPackages []string     `json:"allowed_packages" yaml:"allowed_packages"`
	Forbidden       []rules.Spec `json:"forbidden" yaml:"forbidden"`
	Required        []rules.Spec `json:"required" yaml:"required"`
	Heuristics      []rules.Spec `json:"heuristics" yaml:"heuristics"`
	CELRules        []CELRule    `json:"cel_rules" yaml:"cel_rules"`
}

// Engine compiles the policy's pattern sets into a rule engine.
func (p *Policy) Engine() (*rules.Engine, error) {
	var sets [][]rules.Rule
	for _, specs := range [][]rules.Spec{p.Forbidden, p.Required, p.Heuristics} {
		compiled, err := rules.Compile(specs)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.Name, err)
		}
		sets = append(sets, compiled)
	}
	return rules.NewEngine(sets...), nil
}

// Classifier builds the import classifier for the policy's allow-list.
func (p *Policy) Classifier() *imports.Classifier {
	return imports.NewClassifier(p.AllowedPackages)
}

// ActiveCELRules returns the enabled CEL heuristics.
func (p *Policy) ActiveCELRules() []CELRule {
	var active []CELRule
	for _, r := range p.CELRules {
		if r.Enabled {
			active = append(active, r)
		}
	}
	return active
}

const documentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["version"],
	"properties": {
		"version": {"type": "string"},
		"name": {"type": "string"},
		"allowed_packages": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"forbidden": {"$ref": "#/$defs/specList"},
		"required": {"$ref": "#/$defs/specList"},
		"heuristics": {"$ref": "#/$defs/specList"},
		"cel_rules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "expression"],
				"properties": {
					"id": {"type": "string"},
					"expression": {"type": "string"},
					"message": {"type": "string"},
					"enabled": {"type": "boolean"}
				}
			}
		}
	},
	"$defs": {
		"specList": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "pattern", "severity"],
				"properties": {
					"id": {"type": "string"},
					"category": {"type": "string"},
					"severity": {"type": "string", "enum": ["security", "error", "warning"]},
					"pattern": {"type": "string"},
					"message": {"type": "string"},
					"require": {"type": "boolean"}
				}
			}
		}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://vitrine.schemas.local/policy.schema.json"
		if err := c.AddResource(url, strings.NewReader(documentSchema)); err != nil {
			schemaErr = fmt.Errorf("policy schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(url)
	})
	return schema, schemaErr
}

// Load reads a policy document from path. The format is chosen by file
// extension: .yaml/.yml or .json.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}

	var generic any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("policy: parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("policy: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("policy: unsupported extension %q", ext)
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(generic); err != nil {
		return nil, fmt.Errorf("policy: %s failed schema validation: %w", filepath.Base(path), err)
	}

	// Round-trip through JSON so one struct decode path serves both formats.
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("policy: canonicalize %s: %w", path, err)
	}
	var p Policy
	if err := json.Unmarshal(canonical, &p); err != nil {
		return nil, fmt.Errorf("policy: decode %s: %w", path, err)
	}

	if err := checkVersion(p.Version); err != nil {
		return nil, fmt.Errorf("policy: %s: %w", filepath.Base(path), err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}

func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(compatRange)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("version %s outside supported range %s", version, compatRange)
	}
	return nil
}

// Default returns the built-in policy: the default allow-list and pattern
// sets expressed as overridable data.
func Default() *Policy {
	return &Policy{
		Version:         "1.0.0",
		Name:            "builtin",
		AllowedPackages: imports.DefaultAllowed(),
	}
}
