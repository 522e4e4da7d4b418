package agent

import (
	"embed"
	"fmt"
	"strings"
)

// repoContextCharBudget approximates spec.md §6's "capped at ≈12 000
// tokens" using a 4-chars-per-token rule of thumb — the same rough
// estimate the teacher's token-budget code uses elsewhere in this
// codebase rather than invoking a tokenizer for a soft cap.
const repoContextCharBudget = 12_000 * 4

//go:embed templates/*.md
var roleTemplates embed.FS

// RoleTemplate loads the versioned system prompt template for one role
// (spec.md §6 layer 1: "role system prompt from versioned template file"),
// grounded on the teacher's pattern of keeping prompt text as named
// constants in the prompt package (pkg/agent/prompt/templates.go) —
// generalized here to on-disk templates since Hadron's roles are a larger,
// still-growing set (spec-writer, tdd:test_writer, tdd:code_writer,
// security/quality/spec-compliance reviewers, conflict-resolver,
// release-notes writer, retrospective).
func RoleTemplate(role string) (string, error) {
	data, err := roleTemplates.ReadFile(fmt.Sprintf("templates/%s.md", role))
	if err != nil {
		return "", fmt.Errorf("no system prompt template for role %q: %w", role, err)
	}
	return string(data), nil
}

// RepoContext is prompt layer 2, per spec.md §6.
type RepoContext struct {
	AgentsMD               string
	ClaudeMD               string
	DirectoryTree          string
	Language               string
	TestCommand            string
	RetrospectiveLearnings string
}

// LoopContext is prompt layer 4, per spec.md §6: "previous-iteration
// feedback, CI logs, intervention-slot instructions".
type LoopContext struct {
	PreviousFeedback         string
	CILogs                   string
	InterventionInstructions string
}

// ComposeRepoContext renders layer 2, truncating to repoContextCharBudget:
// "the agent discovers additional context via its read tools" beyond that,
// per spec.md §6.
func ComposeRepoContext(rc RepoContext) string {
	var sb strings.Builder
	sb.WriteString("## Repository Context\n\n")

	if rc.Language != "" {
		sb.WriteString("**Language:** ")
		sb.WriteString(rc.Language)
		sb.WriteString("\n")
	}
	if rc.TestCommand != "" {
		sb.WriteString("**Test command:** `")
		sb.WriteString(rc.TestCommand)
		sb.WriteString("`\n")
	}
	sb.WriteString("\n")

	if rc.AgentsMD != "" {
		sb.WriteString("### AGENTS.md\n```markdown\n")
		sb.WriteString(rc.AgentsMD)
		sb.WriteString("\n```\n\n")
	}
	if rc.ClaudeMD != "" {
		sb.WriteString("### CLAUDE.md\n```markdown\n")
		sb.WriteString(rc.ClaudeMD)
		sb.WriteString("\n```\n\n")
	}
	if rc.DirectoryTree != "" {
		sb.WriteString("### Directory tree\n```\n")
		sb.WriteString(rc.DirectoryTree)
		sb.WriteString("\n```\n\n")
	}
	if rc.RetrospectiveLearnings != "" {
		sb.WriteString("### Learnings from previous change requests\n")
		sb.WriteString(rc.RetrospectiveLearnings)
		sb.WriteString("\n\n")
	}

	return truncateToBudget(sb.String(), repoContextCharBudget)
}

// ComposeTaskPayload renders layer 3: the structured CR, specs, code under
// review, or test results a stage hands the agent — payload is already
// formatted by the caller, this only wraps it in a labeled section.
func ComposeTaskPayload(label, payload string) string {
	if payload == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## ")
	sb.WriteString(label)
	sb.WriteString("\n")
	sb.WriteString(payload)
	sb.WriteString("\n")
	return sb.String()
}

// ComposeLoopContext renders layer 4. Returns "" when every field is empty
// so a first-iteration call omits the section entirely, matching the
// teacher's FormatChainContext "no previous stage data" convention of
// making absence explicit rather than silent.
func ComposeLoopContext(lc LoopContext) string {
	if lc.PreviousFeedback == "" && lc.CILogs == "" && lc.InterventionInstructions == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Loop Context\n\n")
	if lc.PreviousFeedback != "" {
		sb.WriteString("### Feedback from the previous iteration\n")
		sb.WriteString(lc.PreviousFeedback)
		sb.WriteString("\n\n")
	}
	if lc.CILogs != "" {
		sb.WriteString("### CI logs\n```\n")
		sb.WriteString(lc.CILogs)
		sb.WriteString("\n```\n\n")
	}
	if lc.InterventionInstructions != "" {
		sb.WriteString("### Operator instructions\n")
		sb.WriteString(lc.InterventionInstructions)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// BuildTask assembles all four prompt layers into a Task, per spec.md §6.
// Layer 1 becomes the system prompt; layers 2-4 are concatenated into the
// user prompt in order, skipping empty sections.
func BuildTask(role string, rc RepoContext, taskLabel, taskPayload string, lc LoopContext, model, workingDir string, tools []ToolDefinition) (Task, error) {
	systemPrompt, err := RoleTemplate(role)
	if err != nil {
		return Task{}, err
	}

	sections := []string{
		ComposeRepoContext(rc),
		ComposeTaskPayload(taskLabel, taskPayload),
		ComposeLoopContext(lc),
	}
	var nonEmpty []string
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}

	return Task{
		SystemPrompt:     systemPrompt,
		UserPrompt:       strings.Join(nonEmpty, "\n"),
		Model:            model,
		ToolAllowlist:    tools,
		WorkingDirectory: workingDir,
	}, nil
}

// truncateToBudget trims s to at most n bytes on a rune boundary, per
// spec.md §6's repo-context token cap.
func truncateToBudget(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[repo context truncated; use read tools for more]\n"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
