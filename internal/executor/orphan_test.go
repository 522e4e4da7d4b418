package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CollideNV/hadron/internal/pipeline"
	"github.com/CollideNV/hadron/internal/store"
	testdb "github.com/CollideNV/hadron/test/database"
)

func createRunningRun(t *testing.T, st *store.Store, staleness time.Duration) string {
	t.Helper()
	ctx := context.Background()

	crID, err := st.CreateRun(ctx, "", "orphan candidate", "api", pipeline.ConfigSnapshot{}, pipeline.TriggerRequest{})
	require.NoError(t, err)

	ok, err := st.UpdateStatus(ctx, crID, pipeline.StatusPending, pipeline.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = st.Pool().Exec(ctx, `UPDATE cr_runs SET updated_at = now() - $1::interval WHERE cr_id = $2`,
		fmt.Sprintf("%d seconds", int64(staleness.Seconds())), crID)
	require.NoError(t, err)

	return crID
}

func TestOrphanScanner_RecoversStaleRunningRunsToPaused(t *testing.T) {
	ts := testdb.NewTestStore(t)
	crID := createRunningRun(t, ts.Store, 10*time.Minute)

	scanner := NewOrphanScanner(ts.Store, time.Millisecond, 5*time.Minute)
	require.NoError(t, scanner.scanOnce(context.Background()))

	run, err := ts.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPaused, run.Status)
	assert.Equal(t, pipeline.PauseReasonWorkerLost, run.PauseReason)
}

func TestOrphanScanner_LeavesFreshRunningRunsAlone(t *testing.T) {
	ts := testdb.NewTestStore(t)
	crID := createRunningRun(t, ts.Store, time.Second)

	scanner := NewOrphanScanner(ts.Store, time.Millisecond, 5*time.Minute)
	require.NoError(t, scanner.scanOnce(context.Background()))

	run, err := ts.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusRunning, run.Status)
}

func TestOrphanScanner_RunStopsOnContextCancel(t *testing.T) {
	ts := testdb.NewTestStore(t)
	scanner := NewOrphanScanner(ts.Store, time.Millisecond, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scanner.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OrphanScanner.Run did not return after context cancellation")
	}
}
