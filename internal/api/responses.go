package api

import (
	"time"

	"github.com/CollideNV/hadron/internal/pipeline"
)

// TriggerResponse is trigger's {cr_id} result.
type TriggerResponse struct {
	CRID string `json:"cr_id"`
}

// RunSummary is one row of list_runs() (spec.md §4.6).
type RunSummary struct {
	CRID         string              `json:"cr_id"`
	ExternalID   string              `json:"external_id"`
	Title        string              `json:"title"`
	Source       string              `json:"source"`
	Status       pipeline.Status     `json:"status"`
	CurrentStage string              `json:"current_stage"`
	PauseReason  pipeline.PauseReason `json:"pause_reason,omitempty"`
	CostUSD      float64             `json:"cost_usd"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// RunDetail is get_run(cr_id)'s full result.
type RunDetail struct {
	RunSummary
	InputTokens    int64                    `json:"input_tokens"`
	OutputTokens   int64                    `json:"output_tokens"`
	Error          string                   `json:"error,omitempty"`
	ConfigSnapshot pipeline.ConfigSnapshot  `json:"config_snapshot"`
	Trigger        pipeline.TriggerRequest  `json:"trigger"`
}

func toRunSummary(run *pipeline.CRRun) RunSummary {
	return RunSummary{
		CRID:         run.CRID,
		ExternalID:   run.ExternalID,
		Title:        run.Title,
		Source:       run.Source,
		Status:       run.Status,
		CurrentStage: run.CurrentStage,
		PauseReason:  run.PauseReason,
		CostUSD:      run.CostUSD,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

func toRunDetail(run *pipeline.CRRun) RunDetail {
	return RunDetail{
		RunSummary:     toRunSummary(run),
		InputTokens:    run.InputTokens,
		OutputTokens:   run.OutputTokens,
		Error:          run.Error,
		ConfigSnapshot: run.ConfigSnapshot,
		Trigger:        run.Trigger,
	}
}

// HealthResponse mirrors the teacher's aggregated healthHandler response
// shape (pkg/api/server.go), scoped to State Store and Event Bus per
// spec.md §4.6's "readyz: readiness checks State Store and Event Bus
// connectivity".
type HealthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	EventBus string `json:"event_bus"`
}

// ConversationResponse wraps get_conversation(cr_id, key)'s message list.
type ConversationResponse struct {
	CRID     string `json:"cr_id"`
	Key      string `json:"key"`
	Messages any    `json:"messages"`
}

// LogsResponse wraps get_logs(cr_id)'s retained worker process log lines.
type LogsResponse struct {
	CRID  string   `json:"cr_id"`
	Lines []string `json:"lines"`
}
