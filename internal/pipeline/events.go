package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates the event_type values of spec.md §3. Closed set: an
// exhaustive decoder at the Event Bus boundary rejects anything else (design
// note §9, "Typed tagged variants"), the same discipline the teacher applies
// to its LLM Chunk union in pkg/agent/llm_client.go.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline_started"
	EventStageEntered      EventType = "stage_entered"
	EventStageCompleted    EventType = "stage_completed"
	EventAgentStarted      EventType = "agent_started"
	EventAgentCompleted    EventType = "agent_completed"
	EventAgentToolCall     EventType = "agent_tool_call"
	EventAgentOutput       EventType = "agent_output"
	EventAgentNudge        EventType = "agent_nudge"
	EventPhaseStarted      EventType = "phase_started"
	EventPhaseCompleted    EventType = "phase_completed"
	EventTestRun           EventType = "test_run"
	EventReviewFinding     EventType = "review_finding"
	EventCostUpdate        EventType = "cost_update"
	EventInterventionSet   EventType = "intervention_set"
	EventPipelinePaused    EventType = "pipeline_paused"
	EventPipelineResumed   EventType = "pipeline_resumed"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventPipelineFailed    EventType = "pipeline_failed"
)

// knownEventTypes backs the exhaustive decoder in DecodeEventType.
var knownEventTypes = map[EventType]bool{
	EventPipelineStarted: true, EventStageEntered: true, EventStageCompleted: true,
	EventAgentStarted: true, EventAgentCompleted: true, EventAgentToolCall: true,
	EventAgentOutput: true, EventAgentNudge: true, EventPhaseStarted: true,
	EventPhaseCompleted: true, EventTestRun: true, EventReviewFinding: true,
	EventCostUpdate: true, EventInterventionSet: true, EventPipelinePaused: true,
	EventPipelineResumed: true, EventPipelineCompleted: true, EventPipelineFailed: true,
}

// DecodeEventType validates an incoming event_type string against the closed
// set. Unknown variants must be logged and dropped by the caller, not
// silently accepted (design note §9).
func DecodeEventType(s string) (EventType, error) {
	t := EventType(s)
	if !knownEventTypes[t] {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Terminal reports whether this event type closes an Event Bus stream per
// spec.md §4.2 ("Close the stream on reception of any terminal event").
func (t EventType) Terminal() bool {
	switch t {
	case EventPipelineCompleted, EventPipelineFailed, EventPipelinePaused:
		return true
	default:
		return false
	}
}

// Event is one row of a CR's append-only stream (spec.md §3).
type Event struct {
	CRID       string          `json:"cr_id"`
	SequenceID int64           `json:"sequence_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Stage      string          `json:"stage"`
	Type       EventType       `json:"event_type"`
	Data       json.RawMessage `json:"data"`
}

// FindingSeverity is the closed set of review finding severities.
type FindingSeverity string

const (
	SeverityCritical FindingSeverity = "critical"
	SeverityMajor    FindingSeverity = "major"
	SeverityMinor    FindingSeverity = "minor"
	SeverityInfo     FindingSeverity = "info"
)

// Blocking reports whether this severity counts toward the review
// pass/fail routing decision (spec.md §4.5, "Routing uses only
// critical/major findings for the pass/fail decision").
func (s FindingSeverity) Blocking() bool {
	return s == SeverityCritical || s == SeverityMajor
}

// Finding is one review finding, spec.md §3.
type Finding struct {
	Severity FindingSeverity `json:"severity"`
	Category string          `json:"category"`
	File     string          `json:"file"`
	Line     int             `json:"line"`
	Message  string          `json:"message"`
	Reviewer string          `json:"reviewer"`
}

// ScopeFlag is a warning emitted by the deterministic diff-scope pre-pass
// ahead of the LLM reviewers (spec.md §4.5, "Review").
type ScopeFlag struct {
	Kind string `json:"kind"` // config_file | dependency_manifest | infra_descriptor
	Path string `json:"path"`
}
