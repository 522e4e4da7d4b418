// Package pipeline holds the domain types shared by the State Store, Event
// Bus, Graph Executor and Stage Nodes: the CRRun record, the PipelineState
// working payload, and the closed tagged unions for events, findings and
// interventions.
package pipeline

import "time"

// Status is a CRRun lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a run in this status can never run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// PauseReason distinguishes why a run entered the paused status.
type PauseReason string

const (
	PauseReasonNone             PauseReason = ""
	PauseReasonWaitingCI        PauseReason = "waiting_ci"
	PauseReasonWaitingApproval  PauseReason = "waiting_approval"
	PauseReasonVerificationLoop PauseReason = "verification_loop_limit"
	PauseReasonReviewLoop       PauseReason = "review_loop_limit"
	PauseReasonCILoop           PauseReason = "ci_loop_limit"
	PauseReasonRebaseConflict   PauseReason = "rebase_unresolved"
	PauseReasonWorkerLost       PauseReason = "worker_lost"
	PauseReasonError            PauseReason = "error"
	PauseReasonStageTimeout     PauseReason = "stage_timeout"
)

// Stage names — the twelve pipeline nodes plus the synthetic terminal.
const (
	StageIntake                 = "intake"
	StageRepoIdentification     = "repo_identification"
	StageWorktreeSetup          = "worktree_setup"
	StageBehaviourTranslation   = "behaviour_translation"
	StageBehaviourVerification  = "behaviour_verification"
	StageTDD                    = "tdd"
	StageReview                 = "review"
	StageRebase                 = "rebase"
	StageDelivery               = "delivery"
	StageReleaseGate            = "release_gate"
	StageRelease                = "release"
	StageRetrospective          = "retrospective"
	StagePaused                 = "paused"
	StageTerminal               = ""
)

// StageOrder lists the twelve real stages in graph order, used to resolve
// "latest in pipeline order" when multiple resume overrides are present.
var StageOrder = []string{
	StageIntake,
	StageRepoIdentification,
	StageWorktreeSetup,
	StageBehaviourTranslation,
	StageBehaviourVerification,
	StageTDD,
	StageReview,
	StageRebase,
	StageDelivery,
	StageReleaseGate,
	StageRelease,
	StageRetrospective,
}

// CRRun is one row per change request, per spec.md §3.
type CRRun struct {
	CRID           string
	ExternalID     string
	Source         string
	Title          string
	Status         Status
	CurrentStage   string
	PauseReason    PauseReason
	CostUSD        float64
	InputTokens    int64
	OutputTokens   int64
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfigSnapshot ConfigSnapshot
	Trigger        TriggerRequest
}

// TriggerRequest is the raw request body captured at create_run time
// (spec.md §4.1/§4.6's trigger payload: title, description, target
// repositories, and the optional hints a caller can supply up front).
// It is frozen onto the CRRun row alongside ConfigSnapshot so the Intake
// and Repo Identification stages can read it back from any worker that
// later claims the run, rather than requiring the trigger's HTTP request
// to stay alive for the run's duration.
type TriggerRequest struct {
	Description        string   `json:"description"`
	RepoURLs            []string `json:"repo_urls"`
	DefaultBranch       string   `json:"default_branch,omitempty"`
	TestCommand         string   `json:"test_command,omitempty"`
	Language            string   `json:"language,omitempty"`
	Priority            string   `json:"priority,omitempty"`
	AcceptanceCriteria  []string `json:"acceptance_criteria,omitempty"`
	Constraints         []string `json:"constraints,omitempty"`
}

// ConfigSnapshot is the frozen copy of runtime configuration taken at trigger
// time (spec.md §3, "Config snapshot: mirrors CRRun.config_snapshot;
// read-only for the lifetime of the run").
type ConfigSnapshot struct {
	MaxVerificationLoops int                `json:"max_verification_loops"`
	MaxReviewLoops       int                `json:"max_review_loops"`
	MaxCILoops           int                `json:"max_ci_loops"`
	MaxTDDIterations     int                `json:"max_tdd_iterations"`
	MaxRebaseAttempts    int                `json:"max_rebase_attempts"`
	StageTimeout         time.Duration      `json:"stage_timeout"`
	AgentCallTimeout     time.Duration      `json:"agent_call_timeout"`
	CostTable            map[string]Pricing `json:"cost_table"`
}

// Pricing is the per-million-token price for one model, frozen into the
// run's ConfigSnapshot so later price-table edits never retroactively change
// a running CR's accounting (spec.md §4.4.5).
type Pricing struct {
	InputPerMillionUSD  float64 `json:"input_per_million_usd"`
	OutputPerMillionUSD float64 `json:"output_per_million_usd"`
}

// Checkpoint is an immutable (cr_id, node_name, pipeline_state) record.
type Checkpoint struct {
	CRID      string
	Sequence  int64
	NodeName  string
	State     PipelineState
	WrittenAt time.Time
}
