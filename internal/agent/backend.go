// Package agent defines Hadron's AgentBackend contract and a gRPC client
// for the out-of-process agent-runner service that actually drives an LLM
// (spec.md §6, "every backend implements two operations: execute and
// stream"). The runner itself is out of scope; this package only defines
// and calls the client, grounded on the teacher's pkg/agent/llm_client.go
// LLMClient interface and pkg/agent/llm_grpc.go's gRPC wiring.
package agent

import "context"

// Role identifies the speaker of a ConversationMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function-call the agent made during a conversation turn.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ConversationMessage is one turn in the exchange returned by Execute, per
// spec.md §6's execute() result field "conversation".
type ConversationMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolDefinition describes one tool the agent is allowed to call.
type ToolDefinition struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	ParametersSchema string `json:"parameters_schema"`
}

// Task carries everything one agent invocation needs, per spec.md §6:
// "system prompt, user prompt, model spec, tool allowlist, working
// directory", plus the optional explore/plan models for three-phase
// execution (empty strings skip that phase; the runner owns the phase
// orchestration, not this client).
type Task struct {
	SystemPrompt     string           `json:"system_prompt"`
	UserPrompt       string           `json:"user_prompt"`
	Model            string           `json:"model"`
	ExploreModel     string           `json:"explore_model,omitempty"`
	PlanModel        string           `json:"plan_model,omitempty"`
	ToolAllowlist    []ToolDefinition `json:"tool_allowlist,omitempty"`
	WorkingDirectory string           `json:"working_directory"`
}

// Result is execute()'s return value, per spec.md §6:
// "{output, input_tokens, output_tokens, model_id, conversation}".
type Result struct {
	Output       string                `json:"output"`
	InputTokens  int64                 `json:"input_tokens"`
	OutputTokens int64                 `json:"output_tokens"`
	ModelID      string                `json:"model_id"`
	Conversation []ConversationMessage `json:"conversation,omitempty"`
}

// EventType is the closed set of AgentEvent kinds streamed by Stream, per
// spec.md §6.
type EventType string

const (
	EventAgentStarted   EventType = "agent_started"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventOutput         EventType = "output"
	EventPhaseStarted   EventType = "phase_started"
	EventPhaseCompleted EventType = "phase_completed"
	EventAgentCompleted EventType = "agent_completed"
	EventError          EventType = "error"
)

// AgentEvent is a closed union over the stream() iterator items, mirroring
// the teacher's Chunk sum type (pkg/agent/llm_client.go) with an unexported
// discriminator method so the set of implementations stays closed to this
// package.
type AgentEvent interface {
	agentEventType() EventType
}

type AgentStartedEvent struct{}

func (AgentStartedEvent) agentEventType() EventType { return EventAgentStarted }

type ToolCallEvent struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

func (ToolCallEvent) agentEventType() EventType { return EventToolCall }

type ToolResultEvent struct {
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

func (ToolResultEvent) agentEventType() EventType { return EventToolResult }

type OutputEvent struct {
	Text string `json:"text"`
}

func (OutputEvent) agentEventType() EventType { return EventOutput }

type PhaseStartedEvent struct {
	Phase string `json:"phase"`
}

func (PhaseStartedEvent) agentEventType() EventType { return EventPhaseStarted }

type PhaseCompletedEvent struct {
	Phase string `json:"phase"`
}

func (PhaseCompletedEvent) agentEventType() EventType { return EventPhaseCompleted }

type AgentCompletedEvent struct {
	Result Result `json:"result"`
}

func (AgentCompletedEvent) agentEventType() EventType { return EventAgentCompleted }

type ErrorEvent struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (ErrorEvent) agentEventType() EventType { return EventError }

// Backend is the interface stage nodes invoke an LLM-driven agent through.
// execute() is a blocking call returning the aggregated Result; stream()
// exposes the same invocation as a channel of AgentEvent for callers that
// want sub-stage progress (e.g. tool_call/tool_result) as it happens.
type Backend interface {
	Execute(ctx context.Context, task Task) (*Result, error)
	Stream(ctx context.Context, task Task) (<-chan AgentEvent, error)
	Close() error
}
