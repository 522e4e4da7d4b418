package executor

import (
	"github.com/CollideNV/hadron/internal/pipeline"
)

// NextNode is a pure function of (current node, state, config) returning the
// next stage name or pipeline.StagePaused, per spec.md §4.4.2. It has no
// teacher equivalent — pipeline routing is domain-specific — but follows the
// teacher's style of small, table-free, explicitly-ordered conditionals seen
// in pkg/queue/executor.go's aggregateStatus.
func NextNode(current string, state *pipeline.PipelineState, cfg pipeline.ConfigSnapshot) string {
	switch current {
	case pipeline.StageIntake:
		return pipeline.StageRepoIdentification
	case pipeline.StageRepoIdentification:
		return pipeline.StageWorktreeSetup
	case pipeline.StageWorktreeSetup:
		return pipeline.StageBehaviourTranslation
	case pipeline.StageBehaviourTranslation:
		return pipeline.StageBehaviourVerification
	case pipeline.StageBehaviourVerification:
		return routeBehaviourVerification(state, cfg)
	case pipeline.StageTDD:
		return routeTDD(state, cfg)
	case pipeline.StageReview:
		return routeReview(state, cfg)
	case pipeline.StageRebase:
		return routeRebase(state)
	case pipeline.StageDelivery:
		return routeDelivery(state)
	case pipeline.StageReleaseGate:
		return routeReleaseGate(state)
	case pipeline.StageRelease:
		return pipeline.StageRetrospective
	case pipeline.StageRetrospective:
		return pipeline.StageTerminal
	default:
		return pipeline.StagePaused
	}
}

// routeBehaviourVerification implements spec.md §4.4.2: "if verified → tdd;
// else if verification_loops < max_verification_loops → behaviour_translation
// with feedback; else → paused (circuit breaker)". A CR is verified only
// once every fanned-out repo reports verified.
func routeBehaviourVerification(state *pipeline.PipelineState, cfg pipeline.ConfigSnapshot) string {
	if allReposVerified(state) {
		return pipeline.StageTDD
	}
	if state.Behaviour.VerificationLoops < cfg.MaxVerificationLoops {
		return pipeline.StageBehaviourTranslation
	}
	return pipeline.StagePaused
}

func allReposVerified(state *pipeline.PipelineState) bool {
	if len(state.Behaviour.PerRepo) == 0 {
		return false
	}
	for _, repo := range state.Behaviour.PerRepo {
		if !repo.Verified {
			return false
		}
	}
	return true
}

// routeTDD implements the open question in spec.md §4.5 about the dev↔CI
// loop: a CI failure re-enters tdd using its own ci_loops counter, kept
// independent from review_loops, rather than proceeding to review with a
// change that doesn't pass its own tests.
func routeTDD(state *pipeline.PipelineState, cfg pipeline.ConfigSnapshot) string {
	if allTestsPassed(state) {
		return pipeline.StageReview
	}
	if state.Development.CILoops < cfg.MaxCILoops {
		return pipeline.StageTDD
	}
	return pipeline.StagePaused
}

func allTestsPassed(state *pipeline.PipelineState) bool {
	if len(state.Development.PerRepo) == 0 {
		return false
	}
	for _, repo := range state.Development.PerRepo {
		if !repo.TestResults.Passed {
			return false
		}
	}
	return true
}

// routeDelivery implements spec.md §4.4.4: a push_and_wait repo checkpoints
// and terminates until CI reports back via a resume override, rather than
// proceeding straight to release_gate the way self_contained/push_and_forget
// repos do once pushed.
func routeDelivery(state *pipeline.PipelineState) string {
	if deliveryWaitingOnCI(state) {
		return pipeline.StagePaused
	}
	return pipeline.StageReleaseGate
}

func deliveryWaitingOnCI(state *pipeline.PipelineState) bool {
	for _, repo := range state.Repos {
		if repo.Strategy != "push_and_wait" {
			continue
		}
		if !state.Delivery.PerRepo[repo.RepoName].VerificationPassed {
			return true
		}
	}
	return false
}

// routeReleaseGate implements spec.md §4.4.4: release requires an explicit
// approval_granted resume override before proceeding.
func routeReleaseGate(state *pipeline.PipelineState) string {
	if state.Release.Approved {
		return pipeline.StageRelease
	}
	return pipeline.StagePaused
}

// PauseReasonFor names the distinguished reason a run paused when node's
// own routing decided to stop, per spec.md §4.4.4's requirement that an
// operator reading the event stream can tell "waiting on something
// external" apart from "a node failed". Each of these nodes has exactly one
// way to reach paused, so the mapping needs no extra state inspection.
func PauseReasonFor(node string) pipeline.PauseReason {
	switch node {
	case pipeline.StageBehaviourVerification:
		return pipeline.PauseReasonVerificationLoop
	case pipeline.StageTDD:
		return pipeline.PauseReasonCILoop
	case pipeline.StageReview:
		return pipeline.PauseReasonReviewLoop
	case pipeline.StageRebase:
		return pipeline.PauseReasonRebaseConflict
	case pipeline.StageDelivery:
		return pipeline.PauseReasonWaitingCI
	case pipeline.StageReleaseGate:
		return pipeline.PauseReasonWaitingApproval
	default:
		return pipeline.PauseReasonError
	}
}

// routeReview implements spec.md §4.4.2: "if no finding has severity ∈
// {critical, major} → rebase; else if review_loops < max_review_loops →
// tdd with findings; else → paused". Only blocking severities participate
// in the decision (spec.md §4.5).
func routeReview(state *pipeline.PipelineState, cfg pipeline.ConfigSnapshot) string {
	if !hasBlockingFinding(state) {
		return pipeline.StageRebase
	}
	if state.Review.ReviewLoops < cfg.MaxReviewLoops {
		return pipeline.StageTDD
	}
	return pipeline.StagePaused
}

func hasBlockingFinding(state *pipeline.PipelineState) bool {
	for _, repo := range state.Review.PerRepo {
		for _, f := range repo.Findings {
			if f.Blocking() {
				return true
			}
		}
	}
	return false
}

// routeRebase implements spec.md §4.4.2: "rebase_clean absent or true →
// delivery; false → paused (unresolved conflicts)".
func routeRebase(state *pipeline.PipelineState) string {
	if state.Rebase.RebaseClean == nil || *state.Rebase.RebaseClean {
		return pipeline.StageDelivery
	}
	return pipeline.StagePaused
}

// ApplyResumeOverrides rewrites the PipelineState fields the overrides name
// and returns the resume node: the latest stage in pipeline order that the
// applied overrides make valid, per spec.md §4.4.2 ("an override of
// rebase_clean: true resumes at rebase, not earlier").
func ApplyResumeOverrides(state *pipeline.PipelineState, overrides pipeline.ResumeOverrides) string {
	resumeNode := ""

	if overrides.Verified != nil && *overrides.Verified {
		for name, repo := range state.Behaviour.PerRepo {
			repo.Verified = true
			state.Behaviour.PerRepo[name] = repo
		}
		resumeNode = laterStage(resumeNode, pipeline.StageTDD)
	}
	if overrides.ReviewPassed != nil && *overrides.ReviewPassed {
		for name, repo := range state.Review.PerRepo {
			repo.Findings = nil
			state.Review.PerRepo[name] = repo
		}
		resumeNode = laterStage(resumeNode, pipeline.StageRebase)
	}
	if overrides.RebaseClean != nil {
		clean := *overrides.RebaseClean
		state.Rebase.RebaseClean = &clean
		if clean {
			resumeNode = laterStage(resumeNode, pipeline.StageDelivery)
		}
	}
	if overrides.CIPassed != nil && *overrides.CIPassed {
		if state.Delivery.PerRepo == nil {
			state.Delivery.PerRepo = make(map[string]pipeline.DeliveryRepoState, len(state.Repos))
		}
		for _, repo := range state.Repos {
			if repo.Strategy != "push_and_wait" {
				continue
			}
			ds := state.Delivery.PerRepo[repo.RepoName]
			ds.VerificationPassed = true
			state.Delivery.PerRepo[repo.RepoName] = ds
		}
		resumeNode = laterStage(resumeNode, pipeline.StageReleaseGate)
	}
	if overrides.ApprovalGranted != nil && *overrides.ApprovalGranted {
		state.Release.Approved = true
		resumeNode = laterStage(resumeNode, pipeline.StageRelease)
	}

	return resumeNode
}

// laterStage returns whichever of a, b comes later in StageOrder; an empty
// string loses to any real stage name.
func laterStage(a, b string) string {
	if a == "" {
		return b
	}
	posA, posB := stagePos(a), stagePos(b)
	if posB > posA {
		return b
	}
	return a
}

func stagePos(stage string) int {
	for i, s := range pipeline.StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}
