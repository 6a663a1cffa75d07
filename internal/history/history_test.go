package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestRecordRunUpsertsAndLists checks that a run row is updated in place.
func TestRecordRunUpsertsAndLists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := Run{
		ID:          "run-1",
		SessionID:   "20260301_100000",
		StartedAt:   started,
		Status:      "running",
		StatusText:  "Setting up...",
		LDRCount:    3,
		ErrorPolicy: "continue",
		TempDir:     "/tmp/hdr",
	}
	require.NoError(t, store.RecordRun(ctx, run))

	run.Status = "degraded"
	run.Percent = 100
	run.StatusText = "Finished"
	run.FinishedAt = started.Add(2 * time.Minute)
	run.FinalArtifact = "/tmp/hdr/output10.hdr"
	require.NoError(t, store.RecordRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, 100, got.Percent)
	assert.Equal(t, "Finished", got.StatusText)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.FinishedAt.Equal(started.Add(2*time.Minute)))
	assert.Equal(t, "/tmp/hdr/output10.hdr", got.FinalArtifact)
	assert.Equal(t, 3, got.LDRCount)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

// TestListRunsNewestFirstWithLimit checks list order and limit.
func TestListRunsNewestFirstWithLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.RecordRun(ctx, Run{
			ID:        id,
			SessionID: id,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Status:    "finished",
		}))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
}

// TestStepsForRunInOrder checks steps come back by index.
func TestStepsForRunInOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.RecordRun(ctx, Run{ID: "run", SessionID: "s", StartedAt: time.Now(), Status: "running"}))

	require.NoError(t, store.RecordStep(ctx, Step{RunID: "run", Index: 1, Name: "nullify", Command: "ra_xyze -r -o", Duration: 1500 * time.Millisecond}))
	require.NoError(t, store.RecordStep(ctx, Step{RunID: "run", Index: 0, Name: "merge", Failed: true, Message: "hdrgen failed", ExitCode: 1}))

	steps, err := store.StepsForRun(ctx, "run")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "merge", steps[0].Name)
	assert.True(t, steps[0].Failed)
	assert.Equal(t, 1, steps[0].ExitCode)
	assert.Equal(t, "nullify", steps[1].Name)
	assert.Equal(t, 1500*time.Millisecond, steps[1].Duration)
}

// TestRecordStepRequiresKnownRun checks the foreign key on run steps.
func TestRecordStepRequiresKnownRun(t *testing.T) {
	store := openTestStore(t)
	err := store.RecordStep(context.Background(), Step{RunID: "missing", Index: 0, Name: "merge"})
	assert.Error(t, err)
}

// TestGetRunNotFound checks the missing run error.
func TestGetRunNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetRun(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

// TestOpenIsIdempotent checks that reopening keeps rows and migrations.
func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.RecordRun(context.Background(), Run{ID: "x", SessionID: "x", StartedAt: time.Now(), Status: "finished"}))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	runs, err := second.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
