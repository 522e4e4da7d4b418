package stages

import (
	"context"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

type intakeOutput struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	AffectedDomains    []string `json:"affected_domains"`
	Priority           string   `json:"priority"`
	Constraints        []string `json:"constraints"`
	RiskFlags          []string `json:"risk_flags"`
}

// intake parses ChangeRequest.RawText into its structured fields. It runs
// once per CR, before any repository has been identified, so it carries no
// repository context and does not fan out.
func (d *Deps) intake(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	task, err := agent.BuildTask("intake", agent.RepoContext{}, "Raw change request", state.ChangeRequest.RawText,
		agent.LoopContext{InterventionInstructions: state.Intervention}, d.Model, "", nil)
	if err != nil {
		return err
	}

	result, err := d.runAgentStreamed(ctx, state, pipeline.StageIntake, task, emit)
	if err != nil {
		return err
	}

	var out intakeOutput
	if err := decodeJSON(result.Output, &out); err != nil {
		return err
	}

	cr := &state.ChangeRequest
	if out.Title != "" {
		cr.Title = out.Title
	}
	if out.Description != "" {
		cr.Description = out.Description
	}
	if len(out.AcceptanceCriteria) > 0 {
		cr.AcceptanceCriteria = out.AcceptanceCriteria
	}
	cr.AffectedDomains = out.AffectedDomains
	if out.Priority != "" {
		cr.Priority = out.Priority
	}
	if len(out.Constraints) > 0 {
		cr.Constraints = out.Constraints
	}
	cr.RiskFlags = out.RiskFlags

	return nil
}
