// Package catalog is the reference discovery collaborator: it scans an
// artifacts directory on the local filesystem and exposes each file as a
// catalog entry with lazy source and module accessors. It also emits the
// manifest consumed by the browsing host.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vitrine-app/vitrine/pkg/artifact"
	"github.com/vitrine-app/vitrine/pkg/imports"
	"github.com/vitrine-app/vitrine/pkg/loader"
)

// ModuleResolver instantiates the executable module for an artifact. It is
// the host's dynamic-import bridge; the catalog cannot execute artifact
// source itself.
type ModuleResolver func(ctx context.Context, id string) (*artifact.Module, error)

// ErrNoResolver is returned by module accessors when no resolver is wired.
// Fail-closed: discovery without a resolver still validates, never loads.
var ErrNoResolver = errors.New("no module resolver configured")

// FS discovers artifacts from a directory.
type FS struct {
	dir      string
	resolver ModuleResolver
}

// Option configures an FS catalog.
type Option func(*FS)

// WithResolver wires the host's module resolver.
func WithResolver(r ModuleResolver) Option {
	return func(c *FS) { c.resolver = r }
}

// NewFS creates a filesystem catalog over dir.
func NewFS(dir string, opts ...Option) *FS {
	c := &FS{dir: dir}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DiscoverArtifacts lists every regular file in the catalog directory as an
// entry. Hidden files are skipped. Source accessors read the file at call
// time, so a re-scan observes edits.
func (c *FS) DiscoverArtifacts(ctx context.Context) ([]loader.Entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: read dir %s: %w", c.dir, err)
	}

	// A cases.Caser is stateful and not safe for concurrent use; refreshes
	// may race (last-write-wins), so each discovery pass gets its own.
	titleCaser := cases.Title(language.English)

	var entries []loader.Entry
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		name := de.Name()
		id := strings.TrimSuffix(name, filepath.Ext(name))
		path := filepath.Join(c.dir, name)

		entries = append(entries, loader.Entry{
			ID:     id,
			Name:   titleCaser.String(strings.ReplaceAll(id, "-", " ")),
			Path:   path,
			Kind:   kindOf(name),
			Source: c.sourceAccessor(path),
			Module: c.moduleAccessor(id),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (c *FS) sourceAccessor(path string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("catalog: read %s: %w", path, err)
		}
		return string(data), nil
	}
}

func (c *FS) moduleAccessor(id string) func(ctx context.Context) (*artifact.Module, error) {
	return func(ctx context.Context) (*artifact.Module, error) {
		if c.resolver == nil {
			return nil, ErrNoResolver
		}
		return c.resolver(ctx, id)
	}
}

func kindOf(filename string) string {
	switch filepath.Ext(filename) {
	case ".jsx", ".tsx":
		return "react"
	default:
		return "vanilla"
	}
}

// ManifestEntry is one row of the emitted manifest.
type ManifestEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Kind    string `json:"type"`
	IsValid bool   `json:"is_valid"`
}

// WriteManifest writes the manifest JSON for the given artifacts.
func WriteManifest(path string, arts []*artifact.Artifact) error {
	manifest := make([]ManifestEntry, 0, len(arts))
	for _, a := range arts {
		entry := ManifestEntry{ID: a.ID, Name: a.Name, Path: a.Path, Kind: a.Kind}
		if a.Validation != nil {
			entry.IsValid = a.Validation.IsValid
		}
		manifest = append(manifest, entry)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("catalog: write manifest %s: %w", path, err)
	}
	return nil
}

// RequiredPackages returns the sorted, de-duplicated set of external
// package imports declared across the given sources. Local and alias
// references are excluded. The browsing host uses this to surface which
// dependencies a catalog would pull in.
func RequiredPackages(sources []string) []string {
	c := imports.NewDefaultClassifier()
	seen := make(map[string]struct{})
	for _, src := range sources {
		for _, p := range c.Extract(src) {
			if imports.IsLocal(p) {
				continue
			}
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
