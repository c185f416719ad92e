// Package imports extracts and classifies the import declarations of an
// artifact source. Extraction is line/text based: re-exports, dynamic
// imports hidden behind indirection and comment-concealed statements can be
// missed. That is a documented limitation, not a guarantee.
package imports

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vitrine-app/vitrine/pkg/artifact"
)

// importPattern captures the module path literal of an `import ... from`
// declaration, including bare side-effect imports.
var importPattern = regexp.MustCompile(`import\s+(?:[\w{}\s,*$]+\s+from\s+)?['"]([^'"]+)['"]`)

// remoteScheme matches import paths that are themselves network URLs.
var remoteScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// DefaultAllowed is the built-in allow-list: the host's base dependency set
// plus the rendering framework. Entries are prefixes; a package path is
// accepted when it equals or begins with one of them.
func DefaultAllowed() []string {
	return []string{
		"react",
		"react-dom",
		"@radix-ui/",
		"lucide-react",
		"clsx",
		"class-variance-authority",
		"tailwind-merge",
		"tailwindcss-animate",
	}
}

// Classifier checks package-style imports against a prefix allow-list.
type Classifier struct {
	allowed []string
}

// NewClassifier creates a classifier over the given allow-list prefixes.
func NewClassifier(allowed []string) *Classifier {
	return &Classifier{allowed: allowed}
}

// NewDefaultClassifier creates a classifier over DefaultAllowed.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultAllowed())
}

// Extract returns every declared import path in source, in order of
// appearance, duplicates included.
func (c *Classifier) Extract(source string) []string {
	matches := importPattern.FindAllStringSubmatch(source, -1)
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, m[1])
	}
	return paths
}

// Classify extracts and checks every import. Local and alias references are
// always exempt. Remote-URL imports are always rejected, even when their
// remainder coincidentally matches an allowed prefix. Remaining
// package-style paths must start with an allow-listed prefix.
func (c *Classifier) Classify(source string) []artifact.ValidationIssue {
	var issues []artifact.ValidationIssue
	for _, path := range c.Extract(source) {
		if IsLocal(path) {
			continue
		}
		if remoteScheme.MatchString(path) {
			issues = append(issues, artifact.ValidationIssue{
				Category:   artifact.CategoryRemoteNetwork,
				ImportPath: path,
				Message:    fmt.Sprintf("remote import rejected: %s", path),
				Severity:   artifact.SeveritySecurity,
			})
			continue
		}
		if !c.allowedPackage(path) {
			issues = append(issues, artifact.ValidationIssue{
				Category:   artifact.CategoryImportPolicy,
				ImportPath: path,
				Message:    fmt.Sprintf("unauthorized import: %s", path),
				Severity:   artifact.SeveritySecurity,
			})
		}
	}
	return issues
}

func (c *Classifier) allowedPackage(path string) bool {
	for _, prefix := range c.allowed {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IsLocal reports whether path is a relative reference or an internal alias
// reference. These are never checked against the allow-list.
func IsLocal(path string) bool {
	return strings.HasPrefix(path, "./") ||
		strings.HasPrefix(path, "../") ||
		strings.HasPrefix(path, "@/")
}
