package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CollideNV/hadron/internal/pipeline"
)

func TestNextNode_LinearStages(t *testing.T) {
	state := &pipeline.PipelineState{}
	cfg := pipeline.ConfigSnapshot{}

	cases := []struct {
		from, want string
	}{
		{pipeline.StageIntake, pipeline.StageRepoIdentification},
		{pipeline.StageRepoIdentification, pipeline.StageWorktreeSetup},
		{pipeline.StageWorktreeSetup, pipeline.StageBehaviourTranslation},
		{pipeline.StageBehaviourTranslation, pipeline.StageBehaviourVerification},
		{pipeline.StageRelease, pipeline.StageRetrospective},
		{pipeline.StageRetrospective, pipeline.StageTerminal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NextNode(c.from, state, cfg), "from %s", c.from)
	}
}

func TestNextNode_UnknownStagePauses(t *testing.T) {
	got := NextNode("not_a_real_stage", &pipeline.PipelineState{}, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StagePaused, got)
}

func TestRouteBehaviourVerification_AllVerifiedGoesToTDD(t *testing.T) {
	state := &pipeline.PipelineState{
		Behaviour: pipeline.BehaviourState{
			PerRepo: map[string]pipeline.BehaviourRepoState{
				"a": {Verified: true},
				"b": {Verified: true},
			},
		},
	}
	got := NextNode(pipeline.StageBehaviourVerification, state, pipeline.ConfigSnapshot{MaxVerificationLoops: 3})
	assert.Equal(t, pipeline.StageTDD, got)
}

func TestRouteBehaviourVerification_NoReposIsNeverVerified(t *testing.T) {
	state := &pipeline.PipelineState{}
	got := NextNode(pipeline.StageBehaviourVerification, state, pipeline.ConfigSnapshot{MaxVerificationLoops: 3})
	assert.Equal(t, pipeline.StageBehaviourTranslation, got)
}

func TestRouteBehaviourVerification_PartialVerificationLoopsBack(t *testing.T) {
	state := &pipeline.PipelineState{
		Behaviour: pipeline.BehaviourState{
			PerRepo: map[string]pipeline.BehaviourRepoState{
				"a": {Verified: true},
				"b": {Verified: false},
			},
			VerificationLoops: 1,
		},
	}
	got := NextNode(pipeline.StageBehaviourVerification, state, pipeline.ConfigSnapshot{MaxVerificationLoops: 3})
	assert.Equal(t, pipeline.StageBehaviourTranslation, got)
}

func TestRouteBehaviourVerification_LoopLimitPauses(t *testing.T) {
	state := &pipeline.PipelineState{
		Behaviour: pipeline.BehaviourState{
			PerRepo: map[string]pipeline.BehaviourRepoState{
				"a": {Verified: false},
			},
			VerificationLoops: 3,
		},
	}
	got := NextNode(pipeline.StageBehaviourVerification, state, pipeline.ConfigSnapshot{MaxVerificationLoops: 3})
	assert.Equal(t, pipeline.StagePaused, got)
}

func TestRouteTDD_AllTestsPassedGoesToReview(t *testing.T) {
	state := &pipeline.PipelineState{
		Development: pipeline.DevelopmentState{
			PerRepo: map[string]pipeline.DevelopmentRepoState{
				"a": {TestResults: pipeline.TestRunResult{Passed: true}},
			},
		},
	}
	got := NextNode(pipeline.StageTDD, state, pipeline.ConfigSnapshot{MaxCILoops: 3})
	assert.Equal(t, pipeline.StageReview, got)
}

func TestRouteTDD_NoReposIsNeverPassed(t *testing.T) {
	state := &pipeline.PipelineState{}
	got := NextNode(pipeline.StageTDD, state, pipeline.ConfigSnapshot{MaxCILoops: 3})
	assert.Equal(t, pipeline.StageTDD, got)
}

func TestRouteTDD_FailingTestsLoopBackToTDD(t *testing.T) {
	state := &pipeline.PipelineState{
		Development: pipeline.DevelopmentState{
			PerRepo: map[string]pipeline.DevelopmentRepoState{
				"a": {TestResults: pipeline.TestRunResult{Passed: false}},
			},
			CILoops: 1,
		},
	}
	got := NextNode(pipeline.StageTDD, state, pipeline.ConfigSnapshot{MaxCILoops: 3})
	assert.Equal(t, pipeline.StageTDD, got)
}

func TestRouteTDD_LoopLimitPauses(t *testing.T) {
	state := &pipeline.PipelineState{
		Development: pipeline.DevelopmentState{
			PerRepo: map[string]pipeline.DevelopmentRepoState{
				"a": {TestResults: pipeline.TestRunResult{Passed: false}},
			},
			CILoops: 3,
		},
	}
	got := NextNode(pipeline.StageTDD, state, pipeline.ConfigSnapshot{MaxCILoops: 3})
	assert.Equal(t, pipeline.StagePaused, got)
}

func TestRouteDelivery_SelfContainedVerifiedGoesToReleaseGate(t *testing.T) {
	state := &pipeline.PipelineState{
		Repos:    []pipeline.RepoContext{{RepoName: "a", Strategy: "self_contained"}},
		Delivery: pipeline.DeliveryState{PerRepo: map[string]pipeline.DeliveryRepoState{"a": {Pushed: true, VerificationPassed: true}}},
	}
	got := NextNode(pipeline.StageDelivery, state, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StageReleaseGate, got)
}

func TestRouteDelivery_PushAndWaitUnverifiedPauses(t *testing.T) {
	state := &pipeline.PipelineState{
		Repos:    []pipeline.RepoContext{{RepoName: "a", Strategy: "push_and_wait"}},
		Delivery: pipeline.DeliveryState{PerRepo: map[string]pipeline.DeliveryRepoState{"a": {Pushed: true, VerificationPassed: false}}},
	}
	got := NextNode(pipeline.StageDelivery, state, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StagePaused, got)
}

func TestRouteDelivery_PushAndWaitVerifiedViaCIOverrideGoesToReleaseGate(t *testing.T) {
	state := &pipeline.PipelineState{
		Repos:    []pipeline.RepoContext{{RepoName: "a", Strategy: "push_and_wait"}},
		Delivery: pipeline.DeliveryState{PerRepo: map[string]pipeline.DeliveryRepoState{"a": {Pushed: true, VerificationPassed: true}}},
	}
	got := NextNode(pipeline.StageDelivery, state, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StageReleaseGate, got)
}

func TestRouteReleaseGate_ApprovedGoesToRelease(t *testing.T) {
	state := &pipeline.PipelineState{Release: pipeline.ReleaseState{Approved: true}}
	got := NextNode(pipeline.StageReleaseGate, state, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StageRelease, got)
}

func TestRouteReleaseGate_UnapprovedPauses(t *testing.T) {
	state := &pipeline.PipelineState{}
	got := NextNode(pipeline.StageReleaseGate, state, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StagePaused, got)
}

func TestPauseReasonFor_MapsEachLoopAndWaitNodeToItsOwnReason(t *testing.T) {
	cases := []struct {
		node string
		want pipeline.PauseReason
	}{
		{pipeline.StageBehaviourVerification, pipeline.PauseReasonVerificationLoop},
		{pipeline.StageTDD, pipeline.PauseReasonCILoop},
		{pipeline.StageReview, pipeline.PauseReasonReviewLoop},
		{pipeline.StageRebase, pipeline.PauseReasonRebaseConflict},
		{pipeline.StageDelivery, pipeline.PauseReasonWaitingCI},
		{pipeline.StageReleaseGate, pipeline.PauseReasonWaitingApproval},
		{"not_a_real_stage", pipeline.PauseReasonError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PauseReasonFor(c.node), "node %s", c.node)
	}
}

func TestRouteReview_NoBlockingFindingsGoesToRebase(t *testing.T) {
	state := &pipeline.PipelineState{
		Review: pipeline.ReviewState{
			PerRepo: map[string]pipeline.ReviewRepoState{
				"a": {Findings: []pipeline.Finding{{Severity: pipeline.SeverityMinor}}},
			},
		},
	}
	got := NextNode(pipeline.StageReview, state, pipeline.ConfigSnapshot{MaxReviewLoops: 3})
	assert.Equal(t, pipeline.StageRebase, got)
}

func TestRouteReview_BlockingFindingLoopsBackToTDD(t *testing.T) {
	state := &pipeline.PipelineState{
		Review: pipeline.ReviewState{
			PerRepo: map[string]pipeline.ReviewRepoState{
				"a": {Findings: []pipeline.Finding{{Severity: pipeline.SeverityCritical}}},
			},
			ReviewLoops: 1,
		},
	}
	got := NextNode(pipeline.StageReview, state, pipeline.ConfigSnapshot{MaxReviewLoops: 3})
	assert.Equal(t, pipeline.StageTDD, got)
}

func TestRouteReview_LoopLimitPauses(t *testing.T) {
	state := &pipeline.PipelineState{
		Review: pipeline.ReviewState{
			PerRepo: map[string]pipeline.ReviewRepoState{
				"a": {Findings: []pipeline.Finding{{Severity: pipeline.SeverityMajor}}},
			},
			ReviewLoops: 3,
		},
	}
	got := NextNode(pipeline.StageReview, state, pipeline.ConfigSnapshot{MaxReviewLoops: 3})
	assert.Equal(t, pipeline.StagePaused, got)
}

func TestRouteRebase_NilRebaseCleanDefaultsToDelivery(t *testing.T) {
	state := &pipeline.PipelineState{}
	got := NextNode(pipeline.StageRebase, state, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StageDelivery, got)
}

func TestRouteRebase_CleanGoesToDelivery(t *testing.T) {
	clean := true
	state := &pipeline.PipelineState{Rebase: pipeline.RebaseState{RebaseClean: &clean}}
	got := NextNode(pipeline.StageRebase, state, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StageDelivery, got)
}

func TestRouteRebase_ConflictPauses(t *testing.T) {
	dirty := false
	state := &pipeline.PipelineState{Rebase: pipeline.RebaseState{RebaseClean: &dirty}}
	got := NextNode(pipeline.StageRebase, state, pipeline.ConfigSnapshot{})
	assert.Equal(t, pipeline.StagePaused, got)
}

func TestApplyResumeOverrides_VerifiedMarksAllReposAndResumesAtTDD(t *testing.T) {
	state := &pipeline.PipelineState{
		Behaviour: pipeline.BehaviourState{
			PerRepo: map[string]pipeline.BehaviourRepoState{
				"a": {Verified: false},
				"b": {Verified: false},
			},
		},
	}
	truthy := true
	node := ApplyResumeOverrides(state, pipeline.ResumeOverrides{Verified: &truthy})

	assert.Equal(t, pipeline.StageTDD, node)
	assert.True(t, state.Behaviour.PerRepo["a"].Verified)
	assert.True(t, state.Behaviour.PerRepo["b"].Verified)
}

func TestApplyResumeOverrides_ReviewPassedClearsFindingsAndResumesAtRebase(t *testing.T) {
	state := &pipeline.PipelineState{
		Review: pipeline.ReviewState{
			PerRepo: map[string]pipeline.ReviewRepoState{
				"a": {Findings: []pipeline.Finding{{Severity: pipeline.SeverityCritical}}},
			},
		},
	}
	truthy := true
	node := ApplyResumeOverrides(state, pipeline.ResumeOverrides{ReviewPassed: &truthy})

	assert.Equal(t, pipeline.StageRebase, node)
	assert.Empty(t, state.Review.PerRepo["a"].Findings)
}

func TestApplyResumeOverrides_RebaseCleanTrueResumesAtDelivery(t *testing.T) {
	state := &pipeline.PipelineState{}
	truthy := true
	node := ApplyResumeOverrides(state, pipeline.ResumeOverrides{RebaseClean: &truthy})

	assert.Equal(t, pipeline.StageDelivery, node)
	require := state.Rebase.RebaseClean
	assert.NotNil(t, require)
	assert.True(t, *require)
}

func TestApplyResumeOverrides_RebaseCleanFalseDoesNotAdvanceResumeNode(t *testing.T) {
	state := &pipeline.PipelineState{}
	falsy := false
	node := ApplyResumeOverrides(state, pipeline.ResumeOverrides{RebaseClean: &falsy})

	assert.Empty(t, node)
	assert.False(t, *state.Rebase.RebaseClean)
}

func TestApplyResumeOverrides_PicksLatestStageWhenMultipleOverridesApply(t *testing.T) {
	state := &pipeline.PipelineState{}
	truthy := true
	node := ApplyResumeOverrides(state, pipeline.ResumeOverrides{
		Verified:        &truthy, // would resume at tdd
		ApprovalGranted: &truthy, // would resume at release, later in StageOrder
	})

	assert.Equal(t, pipeline.StageRelease, node)
	assert.True(t, state.Release.Approved)
}

func TestApplyResumeOverrides_CIPassedResumesAtReleaseGate(t *testing.T) {
	state := &pipeline.PipelineState{}
	truthy := true
	node := ApplyResumeOverrides(state, pipeline.ResumeOverrides{CIPassed: &truthy})
	assert.Equal(t, pipeline.StageReleaseGate, node)
}
