package intervention

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CollideNV/hadron/internal/pipeline"
	testdb "github.com/CollideNV/hadron/test/database"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st := testdb.NewTestStore(t)
	return NewRegistry(st.Pool(), nil)
}

func createTestRun(t *testing.T, reg *Registry) string {
	t.Helper()
	crID := uuid.New().String()
	_, err := reg.pool.Exec(context.Background(), `
		INSERT INTO cr_runs (cr_id, source, title, status, current_stage, config_snapshot, trigger_payload)
		VALUES ($1, 'api', 'test', 'pending', $2, '{}', '{}')
	`, crID, pipeline.StageIntake)
	require.NoError(t, err)
	return crID
}

func TestSet_ThenGetAndDelete_RoundTrips(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	ctx := context.Background()

	payload := json.RawMessage(`{"message":"slow down"}`)
	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionInstructions, "", payload, nil))

	got, err := reg.GetAndDelete(ctx, crID, pipeline.InterventionInstructions, "")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(got))

	_, err = reg.GetAndDelete(ctx, crID, pipeline.InterventionInstructions, "")
	assert.ErrorIs(t, err, ErrNotFound, "consumption is at-most-once")
}

func TestSet_OverwritesSameKindAndKey(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionNudge, "reviewer", json.RawMessage(`{"message":"first"}`), nil))
	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionNudge, "reviewer", json.RawMessage(`{"message":"second"}`), nil))

	got, err := reg.GetAndDelete(ctx, crID, pipeline.InterventionNudge, "reviewer")
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"second"}`, string(got))
}

func TestSet_DistinctKeysAreIndependent(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionNudge, "reviewer", json.RawMessage(`{"message":"a"}`), nil))
	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionNudge, "tdd", json.RawMessage(`{"message":"b"}`), nil))

	got, err := reg.GetAndDelete(ctx, crID, pipeline.InterventionNudge, "reviewer")
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"a"}`, string(got))

	got, err = reg.GetAndDelete(ctx, crID, pipeline.InterventionNudge, "tdd")
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"b"}`, string(got))
}

func TestSet_RejectsUnknownKind(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	err := reg.Set(context.Background(), crID, pipeline.InterventionKind("bogus"), "", json.RawMessage(`{}`), nil)
	assert.Error(t, err)
}

func TestSet_ResumeOverridesDefaultsToOneHourTTL(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionResumeOverrides, "", json.RawMessage(`{}`), nil))

	var expiresAt time.Time
	err := reg.pool.QueryRow(ctx, `SELECT expires_at FROM interventions WHERE cr_id = $1 AND kind = $2`,
		crID, string(pipeline.InterventionResumeOverrides)).Scan(&expiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(pipeline.ResumeOverrideTTL), expiresAt, time.Minute)
}

func TestGetAndDelete_ExpiredReturnsNotFoundAndDeletesRow(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	ctx := context.Background()

	past := -time.Hour
	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionResumeOverrides, "", json.RawMessage(`{}`), &past))

	_, err := reg.GetAndDelete(ctx, crID, pipeline.InterventionResumeOverrides, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Peek(ctx, crID, pipeline.InterventionResumeOverrides, "")
	assert.ErrorIs(t, err, ErrNotFound, "the expired row was deleted by the prior consumption attempt")
}

func TestPeek_DoesNotConsume(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionInstructions, "", json.RawMessage(`{"x":1}`), nil))

	_, err := reg.Peek(ctx, crID, pipeline.InterventionInstructions, "")
	require.NoError(t, err)

	got, err := reg.GetAndDelete(ctx, crID, pipeline.InterventionInstructions, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(got))
}

func TestPeekAllResumeOverrides_OnlyLiveOnes(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	ctx := context.Background()

	past := -time.Hour
	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionResumeOverrides, "expired-key", json.RawMessage(`{"a":1}`), &past))

	future := time.Hour
	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionResumeOverrides, "", json.RawMessage(`{"b":2}`), &future))

	payloads, err := reg.PeekAllResumeOverrides(ctx, crID)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.JSONEq(t, `{"b":2}`, string(payloads[0]))
}

func TestDeleteExpired_RemovesOnlyPastTTL(t *testing.T) {
	reg := newTestRegistry(t)
	crID := createTestRun(t, reg)
	ctx := context.Background()

	past := -time.Hour
	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionResumeOverrides, "old", json.RawMessage(`{}`), &past))
	future := time.Hour
	require.NoError(t, reg.Set(ctx, crID, pipeline.InterventionResumeOverrides, "live", json.RawMessage(`{}`), &future))

	n, err := reg.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = reg.Peek(ctx, crID, pipeline.InterventionResumeOverrides, "live")
	assert.NoError(t, err)
}
