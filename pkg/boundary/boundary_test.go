package boundary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func healthy(ctx context.Context, props map[string]any) (any, error) {
	return "rendered", nil
}

func panicking(ctx context.Context, props map[string]any) (any, error) {
	panic("Cannot read properties of undefined")
}

func TestRenderNormal(t *testing.T) {
	b := New("greeter", healthy)
	out := b.Render(context.Background(), nil)
	assert.Equal(t, "rendered", out)
	assert.Equal(t, StateNormal, b.State())
	assert.Nil(t, b.LastFailure())
}

func TestPanicIsContained(t *testing.T) {
	var reports []ReportContext
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := New("crasher", panicking,
		WithReportHook(func(err error, rctx ReportContext) { reports = append(reports, rctx) }),
		WithClock(fixedClock{at: at}),
	)

	out := b.Render(context.Background(), nil)
	fb, ok := out.(*Fallback)
	require.True(t, ok, "failed render must yield the fallback, got %T", out)
	assert.Equal(t, "Something went wrong", fb.Title)
	assert.Contains(t, fb.Detail, "Cannot read properties of undefined")
	assert.Equal(t, StateFailed, b.State())

	require.Len(t, reports, 1)
	assert.Equal(t, "crasher", reports[0].ArtifactID)
	assert.Equal(t, fb.OccurrenceID, reports[0].OccurrenceID)
	assert.NotEmpty(t, reports[0].Stack)
	assert.Equal(t, at, reports[0].Timestamp)
}

func TestFailedStateDoesNotRetryOrRereport(t *testing.T) {
	calls := 0
	reports := 0
	b := New("crasher",
		func(ctx context.Context, props map[string]any) (any, error) {
			calls++
			panic("boom")
		},
		WithReportHook(func(err error, rctx ReportContext) { reports++ }),
	)

	first := b.Render(context.Background(), nil).(*Fallback)
	second := b.Render(context.Background(), nil).(*Fallback)
	third := b.Render(context.Background(), nil).(*Fallback)

	assert.Equal(t, 1, calls, "a failed boundary must not touch the child")
	assert.Equal(t, 1, reports, "one report per failure occurrence")
	assert.Equal(t, first.OccurrenceID, second.OccurrenceID)
	assert.Equal(t, first.OccurrenceID, third.OccurrenceID)
}

func TestResetRemountsChild(t *testing.T) {
	fail := true
	reports := 0
	b := New("flaky",
		func(ctx context.Context, props map[string]any) (any, error) {
			if fail {
				panic("first mount dies")
			}
			return "recovered", nil
		},
		WithReportHook(func(err error, rctx ReportContext) { reports++ }),
	)

	_ = b.Render(context.Background(), nil)
	require.Equal(t, StateFailed, b.State())

	fail = false
	b.Reset()
	assert.Equal(t, StateNormal, b.State())
	assert.Nil(t, b.LastFailure())

	out := b.Render(context.Background(), nil)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 1, reports)
}

func TestSecondFailureReportsNewOccurrence(t *testing.T) {
	var occurrences []string
	b := New("crasher", panicking,
		WithReportHook(func(err error, rctx ReportContext) {
			occurrences = append(occurrences, rctx.OccurrenceID)
		}),
	)

	_ = b.Render(context.Background(), nil)
	b.Reset()
	_ = b.Render(context.Background(), nil)

	require.Len(t, occurrences, 2)
	assert.NotEqual(t, occurrences[0], occurrences[1])
}

func TestReturnedErrorIsContainedToo(t *testing.T) {
	b := New("erroring", func(ctx context.Context, props map[string]any) (any, error) {
		return nil, errors.New("props.items is not iterable")
	})

	out := b.Render(context.Background(), nil)
	fb, ok := out.(*Fallback)
	require.True(t, ok)
	assert.Contains(t, fb.Detail, "not iterable")
	require.NotNil(t, b.LastFailure())
	assert.Empty(t, b.LastFailure().Stack, "no stack for an ordinary error return")
}

func TestBoundariesAreIndependent(t *testing.T) {
	crashing := New("a", panicking)
	stable := New("b", healthy)

	_ = crashing.Render(context.Background(), nil)
	out := stable.Render(context.Background(), nil)

	assert.Equal(t, StateFailed, crashing.State())
	assert.Equal(t, StateNormal, stable.State())
	assert.Equal(t, "rendered", out)
}

func TestFallbackOverrides(t *testing.T) {
	b := New("crasher", panicking,
		WithTitle("Artifact unavailable"),
		WithMessage("Try reloading from the gallery."),
	)
	fb := b.Render(context.Background(), nil).(*Fallback)
	assert.Equal(t, "Artifact unavailable", fb.Title)
	assert.Equal(t, "Try reloading from the gallery.", fb.Message)
}
