package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Releck/cibox/internal/model"
)

// fakeBackend scripts leg outcomes by leg name and tracks concurrency.
type fakeBackend struct {
	statusFor map[string]model.LegStatus
	delay     time.Duration

	mu         sync.Mutex
	running    int
	maxRunning int
	runIDs     map[string]struct{}
}

func newFakeBackend(statusFor map[string]model.LegStatus) *fakeBackend {
	return &fakeBackend{
		statusFor: statusFor,
		runIDs:    make(map[string]struct{}),
	}
}

func (b *fakeBackend) Name() model.ExecBackend {
	return model.BackendShell
}

func (b *fakeBackend) RunLeg(_ context.Context, runID string, leg model.Leg, out io.Writer) model.LegResult {
	b.mu.Lock()
	b.running++
	if b.running > b.maxRunning {
		b.maxRunning = b.running
	}
	b.runIDs[runID] = struct{}{}
	b.mu.Unlock()

	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	b.running--
	b.mu.Unlock()

	status, ok := b.statusFor[leg.Name]
	if !ok {
		status = model.LegPassed
	}
	fmt.Fprintf(out, "done\n")
	return model.LegResult{Leg: leg, Status: status}
}

func namedLegs(names ...string) []model.Leg {
	legs := make([]model.Leg, 0, len(names))
	for i, name := range names {
		legs = append(legs, model.Leg{Index: i + 1, Name: name})
	}
	return legs
}

func TestRunner_Run(t *testing.T) {
	t.Run("all legs pass", func(t *testing.T) {
		backend := newFakeBackend(nil)
		var out bytes.Buffer
		r := New(Options{Backend: backend, Jobs: 2, Output: &out})

		report, err := r.Run(context.Background(), namedLegs("a", "b", "c"))
		require.NoError(t, err)

		assert.Equal(t, model.RunPassed, report.Status)
		require.Len(t, report.Results, 3)
		for i, result := range report.Results {
			assert.Equal(t, model.LegPassed, result.Status)
			assert.Equal(t, i+1, result.Leg.Index)
		}
		assert.False(t, report.FinishedAt.Before(report.StartedAt))
	})

	t.Run("run id is a uuid shared by all legs", func(t *testing.T) {
		backend := newFakeBackend(nil)
		r := New(Options{Backend: backend})

		report, err := r.Run(context.Background(), namedLegs("a", "b"))
		require.NoError(t, err)

		_, parseErr := uuid.Parse(report.ID)
		assert.NoError(t, parseErr)

		require.Len(t, backend.runIDs, 1)
		_, ok := backend.runIDs[report.ID]
		assert.True(t, ok)
	})

	t.Run("one failed leg fails the run", func(t *testing.T) {
		backend := newFakeBackend(map[string]model.LegStatus{"b": model.LegFailed})
		r := New(Options{Backend: backend})

		report, err := r.Run(context.Background(), namedLegs("a", "b", "c"))
		require.NoError(t, err)

		assert.Equal(t, model.RunFailed, report.Status)
	})

	t.Run("allow failure leg does not fail the run", func(t *testing.T) {
		backend := newFakeBackend(map[string]model.LegStatus{"nightly": model.LegFailed})
		r := New(Options{Backend: backend})

		legs := namedLegs("stable", "nightly")
		legs[1].AllowFailure = true

		report, err := r.Run(context.Background(), legs)
		require.NoError(t, err)

		assert.Equal(t, model.RunPassed, report.Status)
	})

	t.Run("empty leg list aggregates to skipped", func(t *testing.T) {
		r := New(Options{Backend: newFakeBackend(nil)})

		report, err := r.Run(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, model.RunSkipped, report.Status)
	})

	t.Run("jobs bound respected", func(t *testing.T) {
		backend := newFakeBackend(nil)
		backend.delay = 20 * time.Millisecond
		r := New(Options{Backend: backend, Jobs: 2})

		_, err := r.Run(context.Background(), namedLegs("a", "b", "c", "d", "e", "f"))
		require.NoError(t, err)

		assert.LessOrEqual(t, backend.maxRunning, 2)
	})

	t.Run("fast finish skips remaining legs", func(t *testing.T) {
		backend := newFakeBackend(map[string]model.LegStatus{"a": model.LegFailed})
		backend.delay = 5 * time.Millisecond
		r := New(Options{Backend: backend, Jobs: 1, FastFinish: true})

		report, err := r.Run(context.Background(), namedLegs("a", "b", "c"))
		require.NoError(t, err)

		assert.Equal(t, model.RunFailed, report.Status)
		assert.Equal(t, model.LegFailed, report.Results[0].Status)
		assert.Equal(t, model.LegSkipped, report.Results[1].Status)
		assert.Equal(t, model.LegSkipped, report.Results[2].Status)
	})

	t.Run("fast finish ignores allow failure legs", func(t *testing.T) {
		backend := newFakeBackend(map[string]model.LegStatus{"nightly": model.LegFailed})
		r := New(Options{Backend: backend, Jobs: 1, FastFinish: true})

		legs := namedLegs("nightly", "stable")
		legs[0].AllowFailure = true

		report, err := r.Run(context.Background(), legs)
		require.NoError(t, err)

		assert.Equal(t, model.RunPassed, report.Status)
		assert.Equal(t, model.LegPassed, report.Results[1].Status)
	})

	t.Run("output is prefixed per leg", func(t *testing.T) {
		var out bytes.Buffer
		r := New(Options{Backend: newFakeBackend(nil), Jobs: 1, Output: &out})

		_, err := r.Run(context.Background(), namedLegs("python 3.8"))
		require.NoError(t, err)

		assert.Contains(t, out.String(), "[python 3.8] done\n")
	})

	t.Run("cancelled context surfaces as error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := New(Options{Backend: newFakeBackend(nil)})
		report, err := r.Run(ctx, namedLegs("a"))

		require.Error(t, err)
		assert.Equal(t, model.LegSkipped, report.Results[0].Status)
	})
}

func TestRunReport_Duration(t *testing.T) {
	report := &RunReport{
		StartedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 5, 1, 10, 0, 42, 0, time.UTC),
	}
	assert.Equal(t, 42*time.Second, report.Duration())
}
