// Package validate orchestrates the static checks for one artifact source
// into a single severity-tiered verdict.
//
// Validate is a pure function of the (source text, rule set) pair: identical
// inputs always yield identical results, there are no side effects, and
// callers may re-validate on every catalog refresh without tracking
// staleness.
package validate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/vitrine-app/vitrine/pkg/artifact"
	"github.com/vitrine-app/vitrine/pkg/imports"
	"github.com/vitrine-app/vitrine/pkg/policy"
	"github.com/vitrine-app/vitrine/pkg/rules"
)

// Validator runs the rule engine, the import classifier and any configured
// CEL heuristics against a source snapshot.
type Validator struct {
	engine     *rules.Engine
	classifier *imports.Classifier
	heuristics []celHeuristic
	logger     *slog.Logger
}

type celHeuristic struct {
	id      string
	message string
	program cel.Program
}

// New creates a validator with the built-in rule sets and allow-list.
func New() *Validator {
	return &Validator{
		engine:     rules.NewDefaultEngine(),
		classifier: imports.NewDefaultClassifier(),
		logger:     slog.Default().With("component", "validator"),
	}
}

// FromPolicy creates a validator from an external policy document. Pattern
// sets the policy leaves empty fall back to the built-in defaults; an empty
// allow-list falls back to the default allow-list.
func FromPolicy(p *policy.Policy) (*Validator, error) {
	v := New()

	var sets [][]rules.Rule
	for _, override := range []struct {
		specs    []rules.Spec
		fallback []rules.Rule
	}{
		{p.Forbidden, rules.DefaultForbidden()},
		{p.Required, rules.DefaultRequired()},
		{p.Heuristics, rules.DefaultHeuristics()},
	} {
		if len(override.specs) == 0 {
			sets = append(sets, override.fallback)
			continue
		}
		compiled, err := rules.Compile(override.specs)
		if err != nil {
			return nil, err
		}
		sets = append(sets, compiled)
	}
	v.engine = rules.NewEngine(sets...)

	if len(p.AllowedPackages) > 0 {
		v.classifier = p.Classifier()
	}

	if celRules := p.ActiveCELRules(); len(celRules) > 0 {
		compiled, err := compileHeuristics(celRules)
		if err != nil {
			return nil, err
		}
		v.heuristics = compiled
	}
	return v, nil
}

func compileHeuristics(celRules []policy.CELRule) ([]celHeuristic, error) {
	env, err := cel.NewEnv(
		cel.Variable("identifier", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("lines", cel.IntType),
		cel.Variable("imports", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	compiled := make([]celHeuristic, 0, len(celRules))
	for _, r := range celRules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("cel rule %s: %w", r.ID, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("cel rule %s: %w", r.ID, err)
		}
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("heuristic %s triggered", r.ID)
		}
		compiled = append(compiled, celHeuristic{id: r.ID, message: msg, program: prg})
	}
	return compiled, nil
}

// Validate runs every check against source and accumulates issues into the
// three severity buckets. A panic inside any single check is contained:
// it becomes one error-severity issue and the remaining checks still run.
func (v *Validator) Validate(source, identifier string) artifact.ValidationResult {
	result := artifact.NewResult()

	// Explicit empty-input short circuit: nothing triggered on an empty
	// source is still not a valid artifact.
	if strings.TrimSpace(source) == "" {
		result.Add(artifact.ValidationIssue{
			Category: artifact.CategoryInput,
			Message:  "empty source text",
			Severity: artifact.SeverityError,
		})
		return result
	}

	v.runCheck(&result, "rules", func() []artifact.ValidationIssue {
		return v.engine.Scan(source)
	})
	v.runCheck(&result, "imports", func() []artifact.ValidationIssue {
		return v.classifier.Classify(source)
	})
	v.runCheck(&result, "heuristics", func() []artifact.ValidationIssue {
		return v.evalHeuristics(source, identifier)
	})

	return result
}

// runCheck executes one check with partial-failure containment at the
// validation layer itself.
func (v *Validator) runCheck(result *artifact.ValidationResult, name string, check func() []artifact.ValidationIssue) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validation check panicked", "check", name, "cause", fmt.Sprint(r))
			result.Add(artifact.ValidationIssue{
				Category: artifact.CategoryInternal,
				Message:  fmt.Sprintf("validation failed: %v", r),
				Severity: artifact.SeverityError,
			})
		}
	}()
	for _, issue := range check() {
		result.Add(issue)
	}
}

// evalHeuristics evaluates configured CEL rules over extracted source facts.
// An expression that fails to evaluate yields a warning, never an error:
// advisory rules must not be able to flip validity.
func (v *Validator) evalHeuristics(source, identifier string) []artifact.ValidationIssue {
	if len(v.heuristics) == 0 {
		return nil
	}

	declared := v.classifier.Extract(source)
	input := map[string]any{
		"identifier": identifier,
		"size":       len(source),
		"lines":      strings.Count(source, "\n") + 1,
		"imports":    declared,
	}

	var issues []artifact.ValidationIssue
	for _, h := range v.heuristics {
		out, _, err := h.program.Eval(input)
		if err != nil {
			issues = append(issues, artifact.ValidationIssue{
				Category: artifact.CategoryHeuristic,
				Message:  fmt.Sprintf("heuristic %s failed to evaluate: %v", h.id, err),
				Severity: artifact.SeverityWarning,
			})
			continue
		}
		if triggered, ok := out.Value().(bool); ok && triggered {
			issues = append(issues, artifact.ValidationIssue{
				Category: artifact.CategoryHeuristic,
				Message:  h.message,
				Severity: artifact.SeverityWarning,
			})
		}
	}
	return issues
}
