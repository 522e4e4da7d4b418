package pipeline

// PipelineState is the working payload checkpointed after each node
// (spec.md §3). The Graph Executor owns it exclusively; sub-tasks at
// fan-out receive an immutable snapshot and return only a delta, which the
// executor merges at fan-in (design note §9, "Ownership of PipelineState").
type PipelineState struct {
	// CRID is set by the Graph Executor on every load (fresh or resumed),
	// not derived from the checkpoint blob, so stage nodes have a stable
	// identifier for worktree paths and branch names without each stage
	// needing cr_id threaded through its own signature.
	CRID          string          `json:"cr_id"`
	ChangeRequest ChangeRequest   `json:"change_request"`
	Repos         []RepoContext   `json:"repos"`
	Behaviour     BehaviourState  `json:"behaviour"`
	Development   DevelopmentState `json:"development"`
	Review        ReviewState     `json:"review"`
	Rebase        RebaseState     `json:"rebase"`
	Delivery      DeliveryState   `json:"delivery"`
	Release       ReleaseState    `json:"release"`
	Cost          CostState       `json:"cost"`
	Config        ConfigSnapshot  `json:"config"`
	Intervention  string          `json:"intervention_slot"`
}

// Clone returns a deep-enough copy for safe fan-out snapshotting: slices and
// maps are copied so a sub-task mutating its snapshot cannot affect the
// executor's authoritative state.
func (s PipelineState) Clone() PipelineState {
	out := s
	out.Repos = append([]RepoContext(nil), s.Repos...)
	out.Behaviour.PerRepo = cloneMap(s.Behaviour.PerRepo)
	out.Development.PerRepo = cloneDevMap(s.Development.PerRepo)
	out.Review.PerRepo = cloneReviewMap(s.Review.PerRepo)
	out.Rebase.PerRepo = cloneRebaseMap(s.Rebase.PerRepo)
	out.Delivery.PerRepo = cloneDeliveryMap(s.Delivery.PerRepo)
	out.Cost.ByModel = cloneCostMap(s.Cost.ByModel)
	return out
}

func cloneMap(m map[string]BehaviourRepoState) map[string]BehaviourRepoState {
	if m == nil {
		return nil
	}
	out := make(map[string]BehaviourRepoState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDevMap(m map[string]DevelopmentRepoState) map[string]DevelopmentRepoState {
	if m == nil {
		return nil
	}
	out := make(map[string]DevelopmentRepoState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneReviewMap(m map[string]ReviewRepoState) map[string]ReviewRepoState {
	if m == nil {
		return nil
	}
	out := make(map[string]ReviewRepoState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRebaseMap(m map[string]RebaseRepoState) map[string]RebaseRepoState {
	if m == nil {
		return nil
	}
	out := make(map[string]RebaseRepoState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDeliveryMap(m map[string]DeliveryRepoState) map[string]DeliveryRepoState {
	if m == nil {
		return nil
	}
	out := make(map[string]DeliveryRepoState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCostMap(m map[string]ModelCost) map[string]ModelCost {
	if m == nil {
		return nil
	}
	out := make(map[string]ModelCost, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ChangeRequest is the raw and parsed CR.
type ChangeRequest struct {
	RawText    string   `json:"raw_text"`
	Title      string   `json:"title"`
	Description string  `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	AffectedDomains    []string `json:"affected_domains"`
	Priority   string   `json:"priority"`
	Constraints []string `json:"constraints"`
	RiskFlags  []string `json:"risk_flags"`
}

// RepoContext is one affected repository, per spec.md §3.
type RepoContext struct {
	RepoURL       string   `json:"repo_url"`
	RepoName      string   `json:"repo_name"`
	DefaultBranch string   `json:"default_branch"`
	WorktreePath  string   `json:"worktree_path"`
	Conventions   string   `json:"conventions"`
	DirectoryTree string   `json:"directory_tree"`
	Language      string   `json:"language"`
	TestCommand   string   `json:"test_command"`
	Strategy      string   `json:"strategy"` // self_contained | push_and_wait | push_and_forget
}

// BehaviourState groups per-repo spec metadata and verification results.
type BehaviourState struct {
	PerRepo          map[string]BehaviourRepoState `json:"per_repo"`
	VerificationLoops int                          `json:"verification_loops"`
}

type BehaviourRepoState struct {
	SpecFiles         []string `json:"spec_files"`
	Verified          bool     `json:"verified"`
	Feedback          string   `json:"feedback"`
	MissingScenarios  []string `json:"missing_scenarios"`
	Issues            []string `json:"issues"`
}

// DevelopmentState groups per-repo generated files and TDD iteration counts.
type DevelopmentState struct {
	PerRepo  map[string]DevelopmentRepoState `json:"per_repo"`
	CILoops  int                             `json:"ci_loops"`
}

type DevelopmentRepoState struct {
	GeneratedFiles  []string  `json:"generated_files"`
	TestResults     TestRunResult `json:"test_results"`
	TDDIterations   int       `json:"tdd_iterations"`
}

type TestRunResult struct {
	Passed bool   `json:"passed"`
	Output string `json:"output"`
}

// ReviewState groups per-repo findings and the review loop counter.
type ReviewState struct {
	PerRepo     map[string]ReviewRepoState `json:"per_repo"`
	ReviewLoops int                        `json:"review_loops"`
}

type ReviewRepoState struct {
	Findings   []Finding   `json:"findings"`
	ScopeFlags []ScopeFlag `json:"scope_flags"`
}

// RebaseState groups per-repo rebase outcome. RebaseClean is tri-state:
// nil means "absent" (defaults to true per spec.md §3).
type RebaseState struct {
	PerRepo     map[string]RebaseRepoState `json:"per_repo"`
	RebaseClean *bool                      `json:"rebase_clean"`
}

type RebaseRepoState struct {
	ConflictContext string `json:"conflict_context"`
	Attempts        int    `json:"attempts"`
}

// DeliveryState groups per-repo push/verification results.
type DeliveryState struct {
	PerRepo      map[string]DeliveryRepoState `json:"per_repo"`
	AllVerified  bool                         `json:"all_verified"`
}

type DeliveryRepoState struct {
	Pushed           bool   `json:"pushed"`
	PRURL            string `json:"pr_url"`
	VerificationPassed bool `json:"verification_passed"`
}

// ReleaseState groups release approval and results.
type ReleaseState struct {
	Approved bool   `json:"approved"`
	Results  string `json:"results"`
}

// CostState tracks accumulated token usage and USD cost, keyed by model.
type CostState struct {
	ByModel      map[string]ModelCost `json:"by_model"`
	TotalUSD     float64              `json:"total_usd"`
	InputTokens  int64                `json:"input_tokens"`
	OutputTokens int64                `json:"output_tokens"`
}

type ModelCost struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	USD          float64 `json:"usd"`
}
