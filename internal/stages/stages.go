// Package stages implements the twelve pipeline stage nodes as
// executor.StageFunc values and wires them into an executor.Graph. Each
// stage follows the teacher's executeAgent/executeSynthesisStage call shape
// (pkg/queue/executor.go): assemble a Task from the current PipelineState,
// invoke the agent backend, fold the result back into state, and let
// internal/executor's routing decide what runs next.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/git"
	"github.com/CollideNV/hadron/internal/masking"
	"github.com/CollideNV/hadron/internal/pipeline"
	"github.com/CollideNV/hadron/internal/store"
)

// Deps are the collaborators every stage node shares.
type Deps struct {
	Backend agent.Backend
	Git     *git.Manager
	Masking *masking.Service
	Store   *store.Store

	// BareRoot holds one shared bare clone per repository, reused across
	// change requests against the same upstream.
	BareRoot string
	// WorkRoot holds one worktree per (cr_id, repo_name) pair.
	WorkRoot string
	// Model is the model id requested on every Task; the agent-runner
	// resolves it to a concrete provider/model, and ComputeCost prices
	// whatever model id the result actually reports.
	Model string
}

// Build registers all twelve stage implementations into an executor.Graph,
// consumed by cmd/hadron/main.go to construct the Graph Executor.
func Build(d *Deps) executor.Graph {
	return executor.Graph{
		pipeline.StageIntake:                d.intake,
		pipeline.StageRepoIdentification:    d.repoIdentification,
		pipeline.StageWorktreeSetup:         d.worktreeSetup,
		pipeline.StageBehaviourTranslation:  d.behaviourTranslation,
		pipeline.StageBehaviourVerification: d.behaviourVerification,
		pipeline.StageTDD:                   d.tdd,
		pipeline.StageReview:                d.review,
		pipeline.StageRebase:                d.rebase,
		pipeline.StageDelivery:              d.delivery,
		pipeline.StageReleaseGate:           d.releaseGate,
		pipeline.StageRelease:               d.release,
		pipeline.StageRetrospective:         d.retrospective,
	}
}

func (d *Deps) bareDir(repoName string) string {
	return filepath.Join(d.BareRoot, repoName+".git")
}

func (d *Deps) worktreeDir(crID, repoName string) string {
	return filepath.Join(d.WorkRoot, crID, repoName)
}

func featureBranch(crID string) string {
	return "hadron/" + crID
}

func repoNameFromURL(url string) string {
	name := url
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

func repoAgentContext(repo pipeline.RepoContext) agent.RepoContext {
	return agent.RepoContext{
		DirectoryTree: repo.DirectoryTree,
		Language:      repo.Language,
		TestCommand:   repo.TestCommand,
		AgentsMD:      repo.Conventions,
	}
}

// runAgentStreamed drives one agent call over Backend.Stream, forwarding
// every AgentEvent onto the event bus as it arrives — spec.md §6's
// gap-free real-time stream applies to agent sub-events, not only
// stage-level events. Cost is applied to state once the stream's
// agent_completed event arrives.
func (d *Deps) runAgentStreamed(ctx context.Context, state *pipeline.PipelineState, stage string, task agent.Task, emit executor.EventEmitter) (*agent.Result, error) {
	events, err := d.Backend.Stream(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to start agent stream: %w", err)
	}

	var result *agent.Result
	for ev := range events {
		switch e := ev.(type) {
		case agent.AgentStartedEvent:
			_ = emit.Emit(ctx, pipeline.EventAgentStarted, stage, e)
		case agent.ToolCallEvent:
			e.Input = d.Masking.MaskForEvent(e.Input)
			_ = emit.Emit(ctx, pipeline.EventAgentToolCall, stage, e)
		case agent.ToolResultEvent:
			e.Result = d.Masking.MaskForEvent(e.Result)
			_ = emit.Emit(ctx, pipeline.EventAgentOutput, stage, e)
		case agent.OutputEvent:
			e.Text = d.Masking.MaskForEvent(e.Text)
			_ = emit.Emit(ctx, pipeline.EventAgentOutput, stage, e)
		case agent.PhaseStartedEvent:
			_ = emit.Emit(ctx, pipeline.EventPhaseStarted, stage, e)
		case agent.PhaseCompletedEvent:
			_ = emit.Emit(ctx, pipeline.EventPhaseCompleted, stage, e)
		case agent.AgentCompletedEvent:
			r := e.Result
			r.Output = d.Masking.MaskForEvent(r.Output)
			result = &r
			e.Result = r
			_ = emit.Emit(ctx, pipeline.EventAgentCompleted, stage, e)
		case agent.ErrorEvent:
			if !e.Retryable {
				return nil, fmt.Errorf("agent reported a non-retryable error: %s", e.Message)
			}
		}
	}
	if result == nil {
		return nil, fmt.Errorf("agent stream for stage %s closed without an agent_completed event", stage)
	}

	if len(result.Conversation) > 0 {
		for i, msg := range result.Conversation {
			result.Conversation[i].Content = d.Masking.MaskForEvent(msg.Content)
		}
		if err := d.Store.SaveConversation(ctx, state.CRID, stage, result.Conversation); err != nil {
			slog.Warn("failed to save agent conversation", "stage", stage, "cr_id", state.CRID, "error", err)
		}
	}

	usd := executor.ComputeCost(state.Config, result.ModelID, result.InputTokens, result.OutputTokens)
	executor.ApplyCost(state, result.ModelID, result.InputTokens, result.OutputTokens, usd)
	_ = emit.Emit(ctx, pipeline.EventCostUpdate, stage, map[string]any{
		"model":         result.ModelID,
		"input_tokens":  result.InputTokens,
		"output_tokens": result.OutputTokens,
		"usd":           usd,
		"total_usd":     state.Cost.TotalUSD,
	})
	return result, nil
}

// fsToolDefinitions advertises the file-system tools (internal/tools.FS) to
// an agent whose role needs to read or write inside the worktree.
func fsToolDefinitions() []agent.ToolDefinition {
	return []agent.ToolDefinition{
		{Name: "read_file", Description: "Read a file's contents by path relative to the worktree root.",
			ParametersSchema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`},
		{Name: "write_file", Description: "Write content to a file by path relative to the worktree root, creating parent directories as needed.",
			ParametersSchema: `{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`},
		{Name: "list_directory", Description: "List the entries of a directory relative to the worktree root.",
			ParametersSchema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`},
		{Name: "run_command", Description: "Run a shell command inside the worktree and return its combined output.",
			ParametersSchema: `{"type":"object","properties":{"command":{"type":"string"},"timeout_s":{"type":"integer"}},"required":["command"]}`},
	}
}

// decodeJSON unmarshals an agent's output into v, stripping a markdown code
// fence if the agent wrapped its JSON in one despite being asked not to.
func decodeJSON(output string, v any) error {
	trimmed := strings.TrimSpace(output)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return fmt.Errorf("failed to decode agent output as JSON: %w", err)
	}
	return nil
}
