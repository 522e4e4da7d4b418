package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CollideNV/hadron/internal/config"
	"github.com/CollideNV/hadron/internal/pipeline"
	"github.com/CollideNV/hadron/internal/store"
	testdb "github.com/CollideNV/hadron/test/database"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return testdb.NewTestStore(t).Store
}

func createRunInStatus(t *testing.T, st *store.Store, status pipeline.Status) string {
	t.Helper()
	ctx := context.Background()
	crID, err := st.CreateRun(ctx, "", "test", "api", pipeline.ConfigSnapshot{}, pipeline.TriggerRequest{})
	require.NoError(t, err)
	if status != pipeline.StatusPending {
		ok, err := st.UpdateStatus(ctx, crID, pipeline.StatusPending, status)
		require.NoError(t, err)
		require.True(t, ok)
	}
	return crID
}

func TestSweep_DeletesTerminalRunsPastRetention(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	crID := createRunInStatus(t, st, pipeline.StatusCompleted)
	require.NoError(t, st.WriteCheckpoint(ctx, crID, 0, pipeline.StageIntake, pipeline.PipelineState{}))

	svc := New(config.RetentionConfig{TerminalRetention: -time.Hour, CleanupInterval: time.Hour}, st)
	svc.sweep(ctx)

	_, err := st.GetRun(ctx, crID)
	require.NoError(t, err, "sweep only deletes checkpoints/events/interventions, the summary row stays")

	_, err = st.LatestCheckpoint(ctx, crID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweep_LeavesRunsInsideRetentionWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	crID := createRunInStatus(t, st, pipeline.StatusCompleted)
	require.NoError(t, st.WriteCheckpoint(ctx, crID, 0, pipeline.StageIntake, pipeline.PipelineState{}))

	svc := New(config.RetentionConfig{TerminalRetention: 7 * 24 * time.Hour, CleanupInterval: time.Hour}, st)
	svc.sweep(ctx)

	_, err := st.LatestCheckpoint(ctx, crID)
	assert.NoError(t, err)
}

func TestSweep_LeavesNonTerminalRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	crID := createRunInStatus(t, st, pipeline.StatusRunning)
	require.NoError(t, st.WriteCheckpoint(ctx, crID, 0, pipeline.StageIntake, pipeline.PipelineState{}))

	svc := New(config.RetentionConfig{TerminalRetention: -time.Hour, CleanupInterval: time.Hour}, st)
	svc.sweep(ctx)

	_, err := st.LatestCheckpoint(ctx, crID)
	assert.NoError(t, err, "a running CR is never a sweep candidate regardless of age")
}

func TestStartStop_IsIdempotentAndRunsAnInitialSweep(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	crID := createRunInStatus(t, st, pipeline.StatusCompleted)
	require.NoError(t, st.WriteCheckpoint(ctx, crID, 0, pipeline.StageIntake, pipeline.PipelineState{}))

	svc := New(config.RetentionConfig{TerminalRetention: -time.Hour, CleanupInterval: time.Hour}, st)
	svc.Start(ctx)
	svc.Start(ctx) // second call must be a no-op, not a second goroutine
	time.Sleep(50 * time.Millisecond)
	svc.Stop()
	svc.Stop() // second call must be a no-op, not a blocked channel read

	_, err := st.LatestCheckpoint(ctx, crID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
