// Package masking scrubs secrets out of agent-sourced text before it is
// persisted or broadcast, adapted from the teacher's pkg/masking service.
package masking

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/CollideNV/hadron/internal/config"
)

// compiledPattern holds a pre-compiled regex pattern with its replacement.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns covers the credential shapes most likely to leak through
// an agent's tool output or generated diff: cloud access keys, bearer
// tokens, private key blocks and generic "password: ..." assignments.
// Unlike the teacher's Kubernetes-manifest-aware masker, Hadron's input is
// arbitrary repository content rather than kubectl output, so there is no
// structural "kind: Secret" signal to key off of — every built-in here is a
// flat regex sweep.
var builtinSpecs = []struct {
	name        string
	pattern     string
	replacement string
}{
	{"aws_access_key", `AKIA[0-9A-Z]{16}`, "[MASKED_AWS_ACCESS_KEY]"},
	{"aws_secret_key", `(?i)aws_secret_access_key["']?\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}`, "aws_secret_access_key=[MASKED_AWS_SECRET_KEY]"},
	{"bearer_token", `(?i)bearer\s+[a-zA-Z0-9._\-]{16,}`, "Bearer [MASKED_TOKEN]"},
	{"generic_api_key", `(?i)(api[_-]?key|access[_-]?token|secret)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{20,}["']?`, "$1=[MASKED_SECRET]"},
	{"private_key_block", `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`, "[MASKED_PRIVATE_KEY]"},
	{"password_assignment", `(?i)password["']?\s*[:=]\s*["'][^"'\s]{4,}["']`, "password=\"[MASKED_PASSWORD]\""},
	{"github_token", `gh[pousr]_[A-Za-z0-9]{36,}`, "[MASKED_GITHUB_TOKEN]"},
}

// Service applies compiled masking patterns to text. Created once at
// startup and safe for concurrent use; all state is read-only after
// construction.
type Service struct {
	enabled  bool
	patterns []*compiledPattern
}

// New compiles the built-in pattern set plus any operator-supplied custom
// patterns. Invalid custom patterns are logged and skipped rather than
// failing startup.
func New(cfg config.MaskingConfig) *Service {
	s := &Service{enabled: cfg.Enabled}

	for _, spec := range builtinSpecs {
		re, err := regexp.Compile(spec.pattern)
		if err != nil {
			slog.Error("masking: failed to compile built-in pattern, skipping", "pattern", spec.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &compiledPattern{name: spec.name, regex: re, replacement: spec.replacement})
	}

	for _, p := range cfg.CustomPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("masking: failed to compile custom pattern, skipping", "pattern", p.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &compiledPattern{name: p.Name, regex: re, replacement: p.Replacement})
	}

	slog.Info("masking service initialized", "enabled", cfg.Enabled, "patterns", len(s.patterns))
	return s
}

// Mask applies every compiled pattern to text in sequence. On a panic from a
// pathological regex (catastrophic backtracking on attacker-controlled
// input) it fails closed, returning a redaction notice rather than the raw
// text, mirroring the teacher's MaskToolResult fail-closed policy for
// payloads that may carry credentials pulled from a repository.
func (s *Service) Mask(text string) (masked string, err error) {
	if !s.enabled || text == "" {
		return text, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("masking: panic while applying patterns: %v", r)
		}
	}()

	masked = text
	for _, p := range s.patterns {
		masked = p.regex.ReplaceAllString(masked, p.replacement)
	}
	return masked, nil
}

// MaskForEvent is the fail-closed wrapper stage code and the event bus call
// before persisting agent_output/agent_tool_call event data: on masking
// failure it returns a redaction notice rather than the unmasked payload.
func (s *Service) MaskForEvent(text string) string {
	masked, err := s.Mask(text)
	if err != nil {
		slog.Error("masking failed, redacting event payload", "error", err)
		return "[REDACTED: masking failure, payload withheld]"
	}
	return masked
}
