package artifact

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAddRecomputesValidity(t *testing.T) {
	r := NewResult()
	if !r.IsValid {
		t.Fatal("fresh result must be valid")
	}

	r.Add(ValidationIssue{Severity: SeverityWarning, Message: "just a nudge"})
	if !r.IsValid {
		t.Error("warnings must not affect validity")
	}

	r.Add(ValidationIssue{Severity: SeverityError, Message: "missing default export"})
	if r.IsValid {
		t.Error("an error issue must invalidate the result")
	}
	if len(r.Errors) != 1 || len(r.Warnings) != 1 {
		t.Errorf("bucket routing wrong: %d errors, %d warnings", len(r.Errors), len(r.Warnings))
	}
}

func TestMergeAccumulates(t *testing.T) {
	a := NewResult()
	a.Add(ValidationIssue{Severity: SeverityWarning, Message: "w"})

	b := NewResult()
	b.Add(ValidationIssue{Severity: SeveritySecurity, Message: "s"})
	b.Add(ValidationIssue{Severity: SeverityError, Message: "e"})

	a.Merge(b)
	if a.IsValid {
		t.Error("merging blocking issues must invalidate the target")
	}
	if len(a.SecurityIssues) != 1 || len(a.Errors) != 1 || len(a.Warnings) != 1 {
		t.Errorf("merge lost issues: %+v", a)
	}
}

func TestFirstBlockingPrefersSecurity(t *testing.T) {
	r := NewResult()
	if got := r.FirstBlocking(); got != "" {
		t.Errorf("valid result FirstBlocking = %q, want empty", got)
	}
	r.Add(ValidationIssue{Severity: SeverityError, Message: "the error"})
	r.Add(ValidationIssue{Severity: SeveritySecurity, Message: "the security issue"})
	if got := r.FirstBlocking(); got != "the security issue" {
		t.Errorf("FirstBlocking = %q, want the security issue", got)
	}
}

func TestVerdictJSONCarriesAllThreeArrays(t *testing.T) {
	data, err := json.Marshal(NewResult())
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"security_issues":[]`, `"errors":[]`, `"warnings":[]`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("serialized verdict missing %s: %s", field, data)
		}
	}
}
