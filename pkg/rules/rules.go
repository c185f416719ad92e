// Package rules implements the pattern rule engine. Rules are immutable,
// defined once at process start, and evaluated independently: every rule is
// applied to the full source text and every textual match is reported, so
// evaluation order never affects the outcome.
//
// Matching is textual, not structural. A rule can be defeated by string
// concatenation or indirection and can false-positive on matching substrings
// inside comments or string literals. That limitation is accepted; the
// engine is a gate, not a sound static analysis.
package rules

import (
	"fmt"
	"regexp"

	"github.com/vitrine-app/vitrine/pkg/artifact"
)

// Rule is a single named check. When Require is false the rule reports every
// occurrence of Pattern; when Require is true the rule reports the absence
// of Pattern.
type Rule struct {
	ID       string
	Category artifact.Category
	Severity artifact.Severity
	Pattern  *regexp.Regexp
	// Message is a format template. Match rules receive the matched text as
	// the single %q/%s argument; require rules are used verbatim.
	Message string
	Require bool
}

// Spec is the externally-overridable description of a Rule, as it appears
// in policy files.
type Spec struct {
	ID       string `json:"id" yaml:"id"`
	Category string `json:"category" yaml:"category"`
	Severity string `json:"severity" yaml:"severity"`
	Pattern  string `json:"pattern" yaml:"pattern"`
	Message  string `json:"message" yaml:"message"`
	Require  bool   `json:"require,omitempty" yaml:"require,omitempty"`
}

// Compile turns rule specs into executable rules. A spec with an invalid
// regular expression fails the whole set; policy loading is fail-closed.
func Compile(specs []Spec) ([]Rule, error) {
	compiled := make([]Rule, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: compile pattern %q: %w", s.ID, s.Pattern, err)
		}
		compiled = append(compiled, Rule{
			ID:       s.ID,
			Category: artifact.Category(s.Category),
			Severity: artifact.Severity(s.Severity),
			Pattern:  re,
			Message:  s.Message,
			Require:  s.Require,
		})
	}
	return compiled, nil
}

// Engine evaluates a fixed rule set against source text.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over the given rule sets.
func NewEngine(sets ...[]Rule) *Engine {
	var all []Rule
	for _, set := range sets {
		all = append(all, set...)
	}
	return &Engine{rules: all}
}

// NewDefaultEngine creates an engine with the built-in rule sets.
func NewDefaultEngine() *Engine {
	return NewEngine(DefaultForbidden(), DefaultRequired(), DefaultHeuristics())
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Scan applies every rule to source and returns all findings. Duplicate
// textual matches each produce one issue.
func (e *Engine) Scan(source string) []artifact.ValidationIssue {
	var issues []artifact.ValidationIssue
	for _, r := range e.rules {
		if r.Require {
			if !r.Pattern.MatchString(source) {
				issues = append(issues, artifact.ValidationIssue{
					Category: r.Category,
					Message:  r.Message,
					Severity: r.Severity,
				})
			}
			continue
		}
		for _, match := range r.Pattern.FindAllString(source, -1) {
			issues = append(issues, artifact.ValidationIssue{
				Category:    r.Category,
				MatchedText: match,
				Message:     fmt.Sprintf(r.Message, match),
				Severity:    r.Severity,
			})
		}
	}
	return issues
}

func mustRule(id string, cat artifact.Category, sev artifact.Severity, pattern, message string) Rule {
	return Rule{
		ID:       id,
		Category: cat,
		Severity: sev,
		Pattern:  regexp.MustCompile(pattern),
		Message:  message,
	}
}

// DefaultForbidden returns the built-in dangerous-API patterns. All are
// security severity and block loading.
func DefaultForbidden() []Rule {
	return []Rule{
		mustRule("eval-call", artifact.CategoryForbiddenFunction, artifact.SeveritySecurity,
			`\beval\s*\(`, "forbidden dynamic code evaluation: %s"),
		mustRule("function-constructor", artifact.CategoryForbiddenFunction, artifact.SeveritySecurity,
			`new\s+Function\s*\(`, "forbidden dynamic code evaluation: %s"),
		mustRule("string-timer", artifact.CategoryForbiddenFunction, artifact.SeveritySecurity,
			`set(?:Timeout|Interval)\s*\(\s*['"]`, "forbidden string-argument timer (implicit eval): %s"),
		mustRule("innerhtml-assign", artifact.CategoryDOMSink, artifact.SeveritySecurity,
			`\.innerHTML\s*=`, "forbidden DOM sink assignment: %s"),
		mustRule("outerhtml-assign", artifact.CategoryDOMSink, artifact.SeveritySecurity,
			`\.outerHTML\s*=`, "forbidden DOM sink assignment: %s"),
		mustRule("document-write", artifact.CategoryDOMSink, artifact.SeveritySecurity,
			`document\.write(?:ln)?\s*\(`, "forbidden unchecked document write: %s"),
		mustRule("import-scripts", artifact.CategoryRemoteNetwork, artifact.SeveritySecurity,
			`importScripts\s*\(`, "forbidden remote script loading: %s"),
		mustRule("node-fs", artifact.CategoryFilesystem, artifact.SeveritySecurity,
			`require\s*\(\s*['"](?:fs|child_process)['"]\s*\)`, "forbidden filesystem access: %s"),
	}
}

// DefaultRequired returns the mandatory structural patterns. These
// hard-code one export style: artifacts using alternate export forms fail
// validation even when they would load.
func DefaultRequired() []Rule {
	return []Rule{
		{
			ID:       "default-export",
			Category: artifact.CategoryRequiredPattern,
			Severity: artifact.SeverityError,
			Pattern:  regexp.MustCompile(`export\s+default\b`),
			Message:  "missing required default export",
			Require:  true,
		},
		{
			ID:       "react-import",
			Category: artifact.CategoryRequiredPattern,
			Severity: artifact.SeverityError,
			Pattern:  regexp.MustCompile(`import\s+(?:.+\s+from\s+)?['"]react['"]`),
			Message:  "missing required react import",
			Require:  true,
		},
	}
}

// DefaultHeuristics returns the lower-confidence advisory patterns. They
// produce warnings and never block.
func DefaultHeuristics() []Rule {
	return []Rule{
		mustRule("dangerous-html-prop", artifact.CategoryHeuristic, artifact.SeverityWarning,
			`dangerouslySetInnerHTML`, "raw HTML interpolation: %s"),
		mustRule("global-window", artifact.CategoryHeuristic, artifact.SeverityWarning,
			`\bwindow\.\w+`, "direct global window access: %s"),
		mustRule("blocking-prompt", artifact.CategoryHeuristic, artifact.SeverityWarning,
			`\bprompt\s*\(`, "blocking prompt call: %s"),
	}
}
