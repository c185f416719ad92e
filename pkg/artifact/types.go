// Package artifact defines the data model shared by the validator, the
// loader and the isolation boundary: issues, verdicts and the artifact
// record itself.
package artifact

import "context"

// Severity tiers for validation issues.
type Severity string

const (
	SeveritySecurity Severity = "security"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// Category identifies the class of check that produced an issue.
type Category string

const (
	CategoryForbiddenFunction Category = "forbidden-function"
	CategoryDOMSink           Category = "dom-sink"
	CategoryRemoteNetwork     Category = "remote-network"
	CategoryFilesystem        Category = "filesystem"
	CategoryRequiredPattern   Category = "required-pattern"
	CategoryImportPolicy      Category = "import-policy"
	CategoryHeuristic         Category = "heuristic-warning"

	// CategoryInput marks an empty or missing source text.
	CategoryInput Category = "input"
	// CategoryInternal marks a check that failed to run at all.
	CategoryInternal Category = "internal"
)

// ValidationIssue is one finding against one artifact. Exactly one of
// MatchedText and ImportPath is set depending on the producing check.
type ValidationIssue struct {
	Category    Category `json:"category"`
	MatchedText string   `json:"matched_text,omitempty"`
	ImportPath  string   `json:"import_path,omitempty"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
}

// ValidationResult is the severity-tiered verdict for one source snapshot.
// Invariant: IsValid == (len(SecurityIssues) == 0 && len(Errors) == 0).
// Warnings never affect validity.
type ValidationResult struct {
	IsValid        bool              `json:"is_valid"`
	SecurityIssues []ValidationIssue `json:"security_issues"`
	Errors         []ValidationIssue `json:"errors"`
	Warnings       []ValidationIssue `json:"warnings"`
}

// Add routes an issue into its severity bucket and recomputes validity.
func (r *ValidationResult) Add(issue ValidationIssue) {
	switch issue.Severity {
	case SeveritySecurity:
		r.SecurityIssues = append(r.SecurityIssues, issue)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, issue)
	default:
		r.Errors = append(r.Errors, issue)
	}
	r.IsValid = len(r.SecurityIssues) == 0 && len(r.Errors) == 0
}

// Merge folds all issues from other into r.
func (r *ValidationResult) Merge(other ValidationResult) {
	for _, is := range other.SecurityIssues {
		r.Add(is)
	}
	for _, is := range other.Errors {
		r.Add(is)
	}
	for _, is := range other.Warnings {
		r.Add(is)
	}
}

// FirstBlocking returns the message of the first security issue, or failing
// that the first error. Empty string when the result is valid.
func (r *ValidationResult) FirstBlocking() string {
	if len(r.SecurityIssues) > 0 {
		return r.SecurityIssues[0].Message
	}
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return ""
}

// NewResult returns an empty, valid result with non-nil buckets so that
// serialized verdicts always carry the three arrays.
func NewResult() ValidationResult {
	return ValidationResult{
		IsValid:        true,
		SecurityIssues: []ValidationIssue{},
		Errors:         []ValidationIssue{},
		Warnings:       []ValidationIssue{},
	}
}

// Component is the executable form of an artifact: a render function the
// host invokes with per-mount props. Panics raised inside a Component are
// the isolation boundary's problem, not the caller's.
type Component func(ctx context.Context, props map[string]any) (any, error)

// Module is the resolved executable module of an artifact. Default may be
// nil even for statically valid sources; the loader re-checks it.
type Module struct {
	Default Component
}

// Artifact is one unit of untrusted UI source code tracked by the loader.
type Artifact struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Kind       string            `json:"kind"`
	Source     string            `json:"-"`
	Validation *ValidationResult `json:"validation,omitempty"`

	// Component is attached only after a successful Select.
	Component Component `json:"-"`
}
