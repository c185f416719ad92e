// Package loader turns a discovered catalog of artifact identifiers into a
// set of validated, optionally-instantiated artifacts.
//
// The catalog state is owned by an explicit Loader object: callers hold a
// reference, there is no ambient singleton. The ordering guarantee per
// artifact is strict: fetch, then validate, then gate, then instantiate —
// a module accessor is never invoked before its verdict is known valid.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vitrine-app/vitrine/pkg/artifact"
	"github.com/vitrine-app/vitrine/pkg/validate"
)

var tracer = otel.Tracer("vitrine/loader")

// Entry is one discovered artifact: an identifier plus its source and
// module accessors. Accessors may suspend; both take a context.
type Entry struct {
	ID     string
	Name   string
	Path   string
	Kind   string
	Source func(ctx context.Context) (string, error)
	Module func(ctx context.Context) (*artifact.Module, error)
}

// Discovery yields the artifact catalog. It is an external collaborator;
// pkg/catalog ships the filesystem reference implementation.
type Discovery interface {
	DiscoverArtifacts(ctx context.Context) ([]Entry, error)
}

// Recorder receives every computed verdict: audit trails, metrics. Optional,
// and more than one may be attached.
type Recorder interface {
	Record(ctx context.Context, id string, result artifact.ValidationResult) error
}

// ErrorKind distinguishes the ways selection can fail.
type ErrorKind string

const (
	KindNotFound  ErrorKind = "not-found"
	KindInvalid   ErrorKind = "validation-failed"
	KindMalformed ErrorKind = "malformed-module"
)

// LoadError is raised at selection time only. Static validation findings
// are returned as data, never as errors; LoadError covers what is only
// detectable when instantiation is attempted or the identifier is unknown.
type LoadError struct {
	Kind    ErrorKind
	ID      string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("artifact %s: %s: %s", e.ID, e.Kind, e.Message)
}

type record struct {
	art   *artifact.Artifact
	entry Entry
}

// Loader validates and gates a catalog of artifacts.
type Loader struct {
	discovery Discovery
	validator *validate.Validator
	recorders []Recorder
	logger    *slog.Logger

	mu       sync.RWMutex
	records  map[string]*record
	selected string
}

// Option configures a Loader.
type Option func(*Loader)

// WithRecorder attaches a verdict recorder. Repeatable.
func WithRecorder(r Recorder) Option {
	return func(l *Loader) { l.recorders = append(l.recorders, r) }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a loader over the given discovery and validator.
func New(discovery Discovery, validator *validate.Validator, opts ...Option) *Loader {
	l := &Loader{
		discovery: discovery,
		validator: validator,
		logger:    slog.Default().With("component", "loader"),
		records:   make(map[string]*record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Refresh re-runs discovery and validation, replacing all prior results.
// Per-artifact validation runs concurrently; no artifact's outcome depends
// on another's. A refresh racing an earlier one is a fresh full pass whose
// results overwrite on completion (last-write-wins). A selection whose
// identifier disappeared from the catalog is cleared.
func (l *Loader) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "loader.refresh")
	defer span.End()

	entries, err := l.discovery.DiscoverArtifacts(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("loader: discovery: %w", err)
	}

	fresh := make([]*record, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry Entry) {
			defer wg.Done()
			fresh[i] = l.validateEntry(ctx, entry)
		}(i, entry)
	}
	wg.Wait()

	next := make(map[string]*record, len(fresh))
	for _, rec := range fresh {
		next[rec.art.ID] = rec
	}

	l.mu.Lock()
	l.records = next
	if _, ok := next[l.selected]; !ok {
		l.selected = ""
	}
	l.mu.Unlock()

	for _, recorder := range l.recorders {
		for _, rec := range fresh {
			if err := recorder.Record(ctx, rec.art.ID, *rec.art.Validation); err != nil {
				l.logger.Warn("verdict record failed", "artifact", rec.art.ID, "error", err)
			}
		}
	}

	span.SetAttributes(attribute.Int("catalog.artifacts", len(next)))
	l.logger.Info("catalog refreshed", "artifacts", len(next))
	return nil
}

func (l *Loader) validateEntry(ctx context.Context, entry Entry) *record {
	art := &artifact.Artifact{
		ID:   entry.ID,
		Name: entry.Name,
		Path: entry.Path,
		Kind: entry.Kind,
	}

	source, err := entry.Source(ctx)
	if err != nil {
		res := artifact.NewResult()
		res.Add(artifact.ValidationIssue{
			Category: artifact.CategoryInternal,
			Message:  fmt.Sprintf("source fetch failed: %v", err),
			Severity: artifact.SeverityError,
		})
		art.Validation = &res
		return &record{art: art, entry: entry}
	}

	art.Source = source
	res := l.validator.Validate(source, entry.ID)
	art.Validation = &res
	return &record{art: art, entry: entry}
}

// Select gates and instantiates one artifact. The stored verdict is checked
// first; an invalid artifact's module accessor is never invoked. A valid
// artifact must additionally resolve a non-nil default export — static text
// analysis cannot guarantee a well-formed module, so this is a second,
// independent gate.
func (l *Loader) Select(ctx context.Context, id string) (artifact.Component, error) {
	ctx, span := tracer.Start(ctx, "loader.select")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.id", id))

	l.mu.RLock()
	rec, ok := l.records[id]
	l.mu.RUnlock()

	if !ok {
		return nil, &LoadError{Kind: KindNotFound, ID: id, Message: "unknown artifact identifier"}
	}
	if rec.art.Validation == nil {
		return nil, &LoadError{Kind: KindInvalid, ID: id, Message: "validation was not run"}
	}
	if !rec.art.Validation.IsValid {
		return nil, &LoadError{Kind: KindInvalid, ID: id, Message: rec.art.Validation.FirstBlocking()}
	}

	mod, err := rec.entry.Module(ctx)
	if err != nil {
		return nil, &LoadError{Kind: KindMalformed, ID: id, Message: fmt.Sprintf("module load failed: %v", err)}
	}
	if mod == nil || mod.Default == nil {
		return nil, &LoadError{Kind: KindMalformed, ID: id, Message: "module has no usable default export"}
	}

	l.mu.Lock()
	rec.art.Component = mod.Default
	l.selected = id
	l.mu.Unlock()

	return mod.Default, nil
}

// Get returns the tracked artifact for id.
func (l *Loader) Get(id string) (*artifact.Artifact, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, false
	}
	return rec.art, true
}

// List returns all tracked artifacts sorted by identifier.
func (l *Loader) List() []*artifact.Artifact {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*artifact.Artifact, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.art)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Selected returns the currently selected identifier, empty when none.
func (l *Loader) Selected() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.selected
}
