package pipeline

import "time"

// InterventionKind is the closed set of human-command kinds (spec.md §3).
type InterventionKind string

const (
	InterventionInstructions    InterventionKind = "instructions"
	InterventionNudge           InterventionKind = "nudge"
	InterventionResumeOverrides InterventionKind = "resume_overrides"
)

var knownInterventionKinds = map[InterventionKind]bool{
	InterventionInstructions:    true,
	InterventionNudge:           true,
	InterventionResumeOverrides: true,
}

// ValidKind reports whether kind is one of the closed set of intervention
// kinds; unknown kinds must be rejected at the registry boundary rather than
// silently accepted (design note §9).
func ValidKind(kind InterventionKind) bool {
	return knownInterventionKinds[kind]
}

// Intervention is a pending human command, spec.md §3. A nudge is further
// keyed by agent role via Key; other kinds leave Key empty.
type Intervention struct {
	CRID      string           `json:"cr_id"`
	Kind      InterventionKind `json:"kind"`
	Key       string           `json:"key,omitempty"`
	Payload   []byte           `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

// ResumeOverrides is the structured state patch carried by a resume request
// (spec.md §4.4.2). Only the fields present (non-nil) are applied; absent
// fields leave PipelineState untouched. TTL is 1 hour per spec.md §3.
type ResumeOverrides struct {
	ReviewPassed    *bool `json:"review_passed,omitempty"`
	RebaseClean     *bool `json:"rebase_clean,omitempty"`
	Verified        *bool `json:"verified,omitempty"`
	ApprovalGranted *bool `json:"approval_granted,omitempty"`
	CIPassed        *bool `json:"ci_passed,omitempty"`
}

// ResumeOverrideTTL is the fixed 1-hour lifetime for resume overrides
// (spec.md §3: "Resume overrides have a 1-hour TTL; others live until
// consumed").
const ResumeOverrideTTL = time.Hour
