// Package boundary contains runtime failures of a mounted artifact so one
// failing artifact cannot take down the host or blank out sibling content.
//
// A Boundary is a scoped rendering context with two states, normal and
// failed. A failure intercepted at the render call site moves it to failed,
// where a stable fallback is rendered until an explicit Reset. There is no
// automatic retry and no backoff: this is containment, not recovery.
// Each mounted artifact gets its own Boundary; its state is never shared.
package boundary

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitrine-app/vitrine/pkg/artifact"
)

// State of a boundary.
type State string

const (
	StateNormal State = "normal"
	StateFailed State = "failed"
)

// Clock provides time for failure records; injectable for tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// ReportContext is the contextual trace handed to the report hook.
type ReportContext struct {
	ArtifactID   string    `json:"artifact_id"`
	OccurrenceID string    `json:"occurrence_id"`
	Stack        string    `json:"stack,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Failure is the retained detail of the last intercepted failure.
type Failure struct {
	Err          error
	OccurrenceID string
	Stack        string
	At           time.Time
}

// Fallback is the stable value rendered while the boundary is failed.
type Fallback struct {
	Title        string `json:"title"`
	Message      string `json:"message"`
	Detail       string `json:"detail,omitempty"`
	OccurrenceID string `json:"occurrence_id"`
}

// Boundary wraps one mounted component.
type Boundary struct {
	artifactID string
	title      string
	message    string
	onReport   func(err error, rctx ReportContext)
	clock      Clock
	child      artifact.Component

	mu      sync.Mutex
	state   State
	failure *Failure
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithTitle sets the fallback title.
func WithTitle(title string) Option {
	return func(b *Boundary) { b.title = title }
}

// WithMessage sets an optional fallback message.
func WithMessage(message string) Option {
	return func(b *Boundary) { b.message = message }
}

// WithReportHook sets the external reporting hook. It is invoked exactly
// once per failure occurrence, on the transition into the failed state.
func WithReportHook(hook func(err error, rctx ReportContext)) Option {
	return func(b *Boundary) { b.onReport = hook }
}

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(b *Boundary) { b.clock = c }
}

// New wraps child in a fresh boundary for the given artifact.
func New(artifactID string, child artifact.Component, opts ...Option) *Boundary {
	b := &Boundary{
		artifactID: artifactID,
		title:      "Something went wrong",
		clock:      wallClock{},
		child:      child,
		state:      StateNormal,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Render invokes the wrapped component. A panic or returned error from the
// child is intercepted here and never propagated: the boundary transitions
// to failed, reports the failure, and returns the fallback. While failed,
// Render keeps returning the same fallback without touching the child.
func (b *Boundary) Render(ctx context.Context, props map[string]any) any {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateFailed {
		return b.fallbackLocked()
	}

	out, err := b.renderChild(ctx, props)
	if err != nil {
		b.failLocked(err)
		return b.fallbackLocked()
	}
	return out
}

// renderChild is the explicit catch point: a panicking child is converted
// into an error here.
func (b *Boundary) renderChild(ctx context.Context, props map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{cause: r, stack: string(debug.Stack())}
		}
	}()
	return b.child(ctx, props)
}

func (b *Boundary) failLocked(err error) {
	f := &Failure{
		Err:          err,
		OccurrenceID: uuid.NewString(),
		At:           b.clock.Now(),
	}
	if pe, ok := err.(*panicError); ok {
		f.Stack = pe.stack
	}
	b.state = StateFailed
	b.failure = f

	if b.onReport != nil {
		b.onReport(err, ReportContext{
			ArtifactID:   b.artifactID,
			OccurrenceID: f.OccurrenceID,
			Stack:        f.Stack,
			Timestamp:    f.At,
		})
	}
}

func (b *Boundary) fallbackLocked() *Fallback {
	return &Fallback{
		Title:        b.title,
		Message:      b.message,
		Detail:       b.failure.Err.Error(),
		OccurrenceID: b.failure.OccurrenceID,
	}
}

// Reset clears the failed state so the child re-mounts fresh on the next
// Render. A child that fails again simply re-enters failed, reporting the
// new occurrence.
func (b *Boundary) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateNormal
	b.failure = nil
}

// State returns the current boundary state.
func (b *Boundary) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastFailure returns the retained failure detail, nil when normal.
func (b *Boundary) LastFailure() *Failure {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}

type panicError struct {
	cause any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("render panic: %v", e.cause)
}
