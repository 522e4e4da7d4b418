package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CollideNV/hadron/internal/eventbus"
	"github.com/CollideNV/hadron/internal/intervention"
	"github.com/CollideNV/hadron/internal/pipeline"
	"github.com/CollideNV/hadron/internal/store"
	testdb "github.com/CollideNV/hadron/test/database"
)

func newTestExecutor(t *testing.T, graph Graph) (*Executor, *store.Store) {
	t.Helper()
	ts := testdb.NewTestStore(t)
	bus := eventbus.NewBus(ts.Pool(), ts.ConnString)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { bus.Stop(context.Background()) })

	reg := intervention.NewRegistry(ts.Pool(), nil)
	return NewExecutor(ts.Store, bus, reg, graph), ts.Store
}

func noop(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
	return nil
}

// happyPathGraph carries a fresh run through every stage to completion:
// repo_identification seeds one repo already verified, tdd reports its
// tests passing, review leaves no findings, and release_gate records an
// approval — each standing in for what would otherwise come from a resume
// override or an external signal, so routing never loops back or pauses.
func happyPathGraph() Graph {
	return Graph{
		pipeline.StageIntake: noop,
		pipeline.StageRepoIdentification: func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
			state.Repos = append(state.Repos, pipeline.RepoContext{RepoName: "svc"})
			state.Behaviour.PerRepo = map[string]pipeline.BehaviourRepoState{"svc": {Verified: true}}
			return nil
		},
		pipeline.StageWorktreeSetup:        noop,
		pipeline.StageBehaviourTranslation: noop,
		pipeline.StageBehaviourVerification: noop,
		pipeline.StageTDD: func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
			state.Development.PerRepo = map[string]pipeline.DevelopmentRepoState{"svc": {TestResults: pipeline.TestRunResult{Passed: true}}}
			return nil
		},
		pipeline.StageReview:   noop,
		pipeline.StageRebase:   noop,
		pipeline.StageDelivery: noop,
		pipeline.StageReleaseGate: func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
			state.Release.Approved = true
			return nil
		},
		pipeline.StageRelease:       noop,
		pipeline.StageRetrospective: noop,
	}
}

func createPendingRun(t *testing.T, st *store.Store) string {
	t.Helper()
	crID, err := st.CreateRun(context.Background(), "", "test cr", "api",
		pipeline.ConfigSnapshot{MaxVerificationLoops: 3, MaxReviewLoops: 3, MaxCILoops: 3}, pipeline.TriggerRequest{})
	require.NoError(t, err)
	return crID
}

func TestRun_FreshRunCompletesAndWritesCheckpointPerStage(t *testing.T) {
	x, st := newTestExecutor(t, happyPathGraph())
	crID := createPendingRun(t, st)

	require.NoError(t, x.Run(context.Background(), crID))

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, run.Status)

	history, err := st.CheckpointHistory(context.Background(), crID)
	require.NoError(t, err)
	assert.Len(t, history, len(pipeline.StageOrder))
}

func TestRun_AlreadyTerminalIsANoOp(t *testing.T) {
	x, st := newTestExecutor(t, happyPathGraph())
	crID := createPendingRun(t, st)

	ok, err := st.UpdateStatus(context.Background(), crID, pipeline.StatusPending, pipeline.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.UpdateStatus(context.Background(), crID, pipeline.StatusRunning, pipeline.StatusCompleted)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, x.Run(context.Background(), crID))

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, run.Status)
}

func TestRun_SkipsWhenAlreadyClaimedByAnotherWorker(t *testing.T) {
	x, st := newTestExecutor(t, happyPathGraph())
	crID := createPendingRun(t, st)

	ok, err := st.UpdateStatus(context.Background(), crID, pipeline.StatusPending, pipeline.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, x.Run(context.Background(), crID))

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusRunning, run.Status, "Run must not touch a CR already claimed by someone else")
}

func TestRun_StageErrorPausesWithErrorReason(t *testing.T) {
	graph := happyPathGraph()
	graph[pipeline.StageTDD] = func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
		return assert.AnError
	}
	x, st := newTestExecutor(t, graph)
	crID := createPendingRun(t, st)

	err := x.Run(context.Background(), crID)
	assert.Error(t, err)

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPaused, run.Status)
	assert.Equal(t, pipeline.PauseReasonError, run.PauseReason)
}

func TestRun_ReleaseGateWithoutApprovalPausesWithWaitingApproval(t *testing.T) {
	graph := happyPathGraph()
	graph[pipeline.StageReleaseGate] = noop // no approval recorded this time
	x, st := newTestExecutor(t, graph)
	crID := createPendingRun(t, st)

	require.NoError(t, x.Run(context.Background(), crID))

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPaused, run.Status)
	assert.Equal(t, pipeline.PauseReasonWaitingApproval, run.PauseReason)
}

func TestRun_PushAndWaitDeliveryPausesWithWaitingCI(t *testing.T) {
	graph := happyPathGraph()
	graph[pipeline.StageRepoIdentification] = func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
		state.Repos = append(state.Repos, pipeline.RepoContext{RepoName: "svc", Strategy: "push_and_wait"})
		state.Behaviour.PerRepo = map[string]pipeline.BehaviourRepoState{"svc": {Verified: true}}
		return nil
	}
	x, st := newTestExecutor(t, graph)
	crID := createPendingRun(t, st)

	require.NoError(t, x.Run(context.Background(), crID))

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPaused, run.Status)
	assert.Equal(t, pipeline.PauseReasonWaitingCI, run.PauseReason)
}

func TestRun_FailingTestsExhaustCILoopLimitAndPause(t *testing.T) {
	graph := happyPathGraph()
	graph[pipeline.StageTDD] = func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
		state.Development.PerRepo = map[string]pipeline.DevelopmentRepoState{"svc": {TestResults: pipeline.TestRunResult{Passed: false}}}
		return nil
	}
	x, st := newTestExecutor(t, graph)
	crID, err := st.CreateRun(context.Background(), "", "test cr", "api",
		pipeline.ConfigSnapshot{MaxVerificationLoops: 3, MaxReviewLoops: 3, MaxCILoops: 2}, pipeline.TriggerRequest{})
	require.NoError(t, err)

	require.NoError(t, x.Run(context.Background(), crID))

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPaused, run.Status)
	assert.Equal(t, pipeline.PauseReasonCILoop, run.PauseReason)
}

func TestRun_StageTimeoutPausesWithStageTimeoutReason(t *testing.T) {
	graph := happyPathGraph()
	graph[pipeline.StageTDD] = func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
		<-ctx.Done()
		return ctx.Err()
	}
	x, st := newTestExecutor(t, graph)
	crID, err := st.CreateRun(context.Background(), "", "test cr", "api",
		pipeline.ConfigSnapshot{MaxVerificationLoops: 3, MaxReviewLoops: 3, MaxCILoops: 3, StageTimeout: 10 * time.Millisecond},
		pipeline.TriggerRequest{})
	require.NoError(t, err)

	assert.Error(t, x.Run(context.Background(), crID))

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPaused, run.Status)
	assert.Equal(t, pipeline.PauseReasonStageTimeout, run.PauseReason)
}

func TestRun_MissingStageImplementationFailsRun(t *testing.T) {
	graph := happyPathGraph()
	delete(graph, pipeline.StageRelease)
	x, st := newTestExecutor(t, graph)
	crID := createPendingRun(t, st)

	err := x.Run(context.Background(), crID)
	assert.Error(t, err)

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, run.Status)
}

func TestRun_ResumesFromLatestCheckpointNotFromScratch(t *testing.T) {
	var intakeCalls int
	graph := happyPathGraph()
	graph[pipeline.StageIntake] = func(ctx context.Context, state *pipeline.PipelineState, emit EventEmitter) error {
		intakeCalls++
		return nil
	}

	x, st := newTestExecutor(t, graph)
	crID := createPendingRun(t, st)

	require.NoError(t, st.WriteCheckpoint(context.Background(), crID, 1, pipeline.StageRepoIdentification, pipeline.PipelineState{
		Repos:     []pipeline.RepoContext{{RepoName: "svc"}},
		Behaviour: pipeline.BehaviourState{PerRepo: map[string]pipeline.BehaviourRepoState{"svc": {Verified: true}}},
	}))
	ok, err := st.UpdateStatus(context.Background(), crID, pipeline.StatusPending, pipeline.StatusPaused)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, x.Run(context.Background(), crID))

	assert.Zero(t, intakeCalls, "resuming past intake's checkpoint must not re-run intake")

	run, err := st.GetRun(context.Background(), crID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, run.Status)
}

func TestEmitter_Emit_AssignsSequenceIDsViaBus(t *testing.T) {
	ts := testdb.NewTestStore(t)
	bus := eventbus.NewBus(ts.Pool(), ts.ConnString)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { bus.Stop(context.Background()) })

	crID, err := ts.CreateRun(context.Background(), "", "test", "api", pipeline.ConfigSnapshot{}, pipeline.TriggerRequest{})
	require.NoError(t, err)

	em := &emitter{bus: bus, crID: crID}
	require.NoError(t, em.Emit(context.Background(), pipeline.EventStageEntered, pipeline.StageIntake, map[string]string{"x": "y"}))
	require.NoError(t, em.Emit(context.Background(), pipeline.EventPipelineCompleted, pipeline.StageTerminal, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := bus.StreamFrom(ctx, crID, 0)
	require.NoError(t, err)

	var events []pipeline.Event
	for evt := range stream {
		events = append(events, evt)
	}
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].SequenceID)
	assert.Equal(t, int64(2), events[1].SequenceID)
}

func TestSeedFromTrigger_CopiesTriggerFieldsOntoFreshState(t *testing.T) {
	run := &pipeline.CRRun{
		Title: "add logging",
		Trigger: pipeline.TriggerRequest{
			Description:        "add structured logging",
			RepoURLs:           []string{"git@example.com:org/svc.git"},
			DefaultBranch:      "main",
			Language:           "go",
			TestCommand:        "go test ./...",
			Priority:           "high",
			AcceptanceCriteria: []string{"logs include trace id"},
			Constraints:        []string{"no new deps"},
		},
	}
	state := &pipeline.PipelineState{}
	seedFromTrigger(state, run)

	assert.Equal(t, "add logging", state.ChangeRequest.Title)
	assert.Equal(t, "add structured logging", state.ChangeRequest.Description)
	require.Len(t, state.Repos, 1)
	assert.Equal(t, "git@example.com:org/svc.git", state.Repos[0].RepoURL)
	assert.Equal(t, "main", state.Repos[0].DefaultBranch)
	assert.Equal(t, "go", state.Repos[0].Language)
	assert.Equal(t, "go test ./...", state.Repos[0].TestCommand)
}

func TestNodeAfter_ReturnsNextStageOrTerminal(t *testing.T) {
	assert.Equal(t, pipeline.StageRepoIdentification, nodeAfter(pipeline.StageIntake))
	assert.Equal(t, pipeline.StageTerminal, nodeAfter(pipeline.StageRetrospective))
}

func TestClaimRun_PendingToRunningSucceedsOnce(t *testing.T) {
	x, st := newTestExecutor(t, happyPathGraph())
	crID := createPendingRun(t, st)

	owned, err := x.claimRun(context.Background(), crID, pipeline.StatusPending)
	require.NoError(t, err)
	assert.True(t, owned)

	owned2, err := x.claimRun(context.Background(), crID, pipeline.StatusPending)
	require.NoError(t, err)
	assert.False(t, owned2, "a second claim from the same stale status must lose the CAS")
}
