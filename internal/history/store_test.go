package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Releck/cibox/internal/model"
)

func testRecord(id string, started time.Time, status model.RunStatus) model.RunRecord {
	return model.RunRecord{
		ID:           id,
		PipelinePath: "/work/project/.cibox.yml",
		Branch:       "master",
		Backend:      model.BackendShell,
		Status:       status,
		StartedAt:    started,
		FinishedAt:   started.Add(90 * time.Second),
		Legs: []model.LegRecord{
			{Index: 1, Name: "python 3.6 GALLERYDL_TESTS=core", Status: model.LegPassed, Duration: 40 * time.Second},
			{Index: 2, Name: "python 3.6 GALLERYDL_TESTS=results", Status: model.LegFailed, ExitCode: 2, Duration: 50 * time.Second},
		},
	}
}

func TestRecordRunRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	record := testRecord("run-1", started, model.RunFailed)
	require.NoError(t, store.RecordRun(ctx, record))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.PipelinePath, got.PipelinePath)
	assert.Equal(t, "master", got.Branch)
	assert.Equal(t, model.BackendShell, got.Backend)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.FinishedAt.Equal(started.Add(90*time.Second)))

	require.Len(t, got.Legs, 2)
	assert.Equal(t, 1, got.Legs[0].Index)
	assert.Equal(t, model.LegPassed, got.Legs[0].Status)
	assert.Equal(t, 40*time.Second, got.Legs[0].Duration)
	assert.Equal(t, 2, got.Legs[1].ExitCode)
	assert.Equal(t, model.LegFailed, got.Legs[1].Status)
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		record := testRecord(id, base.Add(time.Duration(i)*time.Hour), model.RunPassed)
		require.NoError(t, store.RecordRun(ctx, record))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
	assert.Len(t, runs[0].Legs, 2, "legs are attached to listed runs")
}

func TestListRunsEmpty(t *testing.T) {
	store := setupTestStore(t)

	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecordRunAllowFailureSurvives(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	record := testRecord("run-af", time.Now().UTC(), model.RunPassed)
	record.Legs[1].AllowFailure = true
	require.NoError(t, store.RecordRun(ctx, record))

	got, err := store.GetRun(ctx, "run-af")
	require.NoError(t, err)
	assert.False(t, got.Legs[0].AllowFailure)
	assert.True(t, got.Legs[1].AllowFailure)
}
