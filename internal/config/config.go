// Package config loads and validates Hadron's YAML configuration, following
// the same load→merge→validate pipeline as the teacher's pkg/config package.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize.
type Config struct {
	configDir string

	HTTP       HTTPConfig
	Database   DatabaseConfig
	Pipeline   PipelineConfig
	Retention  RetentionConfig
	Agent      AgentBackendConfig
	MCPServers map[string]MCPServerConfig
	Masking    MaskingConfig
	Storage    StorageConfig
}

// StorageConfig locates the Worktree Setup stage's on-disk repository
// storage (spec.md §4.3): one shared bare clone per repository and one
// worktree per (cr_id, repo) pair.
type StorageConfig struct {
	BareRoot string `yaml:"bare_root"`
	WorkRoot string `yaml:"work_root"`
}

// HTTPConfig configures the Controller API's listen address.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig configures the Postgres connection pool backing the State
// Store, Event Bus and Intervention Registry.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// PipelineConfig carries the circuit-breaker and cost-accounting knobs that
// are frozen into each CRRun's config_snapshot at trigger time (spec.md §3).
type PipelineConfig struct {
	MaxVerificationLoops int                       `yaml:"max_verification_loops"`
	MaxReviewLoops       int                       `yaml:"max_review_loops"`
	MaxCILoops           int                       `yaml:"max_ci_loops"`
	MaxTDDIterations     int                       `yaml:"max_tdd_iterations"`
	MaxRebaseAttempts    int                       `yaml:"max_rebase_attempts"`
	StageTimeout         time.Duration             `yaml:"stage_timeout"`
	AgentCallTimeout     time.Duration             `yaml:"agent_call_timeout"`
	AgentCallMaxAttempts int                       `yaml:"agent_call_max_attempts"`
	AgentCallBackoff     time.Duration             `yaml:"agent_call_backoff"`
	CostTable            map[string]ModelPricing   `yaml:"cost_table"`
	OrphanScanInterval   time.Duration             `yaml:"orphan_scan_interval"`
	OrphanThreshold      time.Duration             `yaml:"orphan_threshold"`
	EventCatchupLimit    int                       `yaml:"event_catchup_limit"`
}

// ModelPricing is the per-million-token USD price for one model id.
type ModelPricing struct {
	InputPerMillionUSD  float64 `yaml:"input_per_million_usd"`
	OutputPerMillionUSD float64 `yaml:"output_per_million_usd"`
}

// RetentionConfig controls the cleanup sweep's retention window, grounded on
// the teacher's pkg/config/retention.go.
type RetentionConfig struct {
	TerminalRetention time.Duration `yaml:"terminal_retention"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// AgentBackendConfig points at the out-of-process agent-runner gRPC service
// (spec.md §6, "Agent backend interface" — out of scope to implement the far
// side, in scope to define and call the client).
type AgentBackendConfig struct {
	Target string `yaml:"target"`
	Model  string `yaml:"model"`
}

// MaskingConfig controls secret masking applied to agent_output/agent_tool_call
// event payloads before they are persisted or broadcast (spec.md §6, grounded
// on the teacher's pkg/masking).
type MaskingConfig struct {
	Enabled        bool             `yaml:"enabled"`
	CustomPatterns []PatternConfig  `yaml:"custom_patterns"`
}

// PatternConfig is one operator-supplied regex pattern on top of the
// built-in set, keyed by name for logging.
type PatternConfig struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MCPServerConfig describes one MCP server used for file-system tools
// (spec.md §6), grounded on the teacher's pkg/config/mcp.go.
type MCPServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token_env"`
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Snapshot freezes the pipeline knobs into a pipeline.ConfigSnapshot-shaped
// value at trigger time. Defined in snapshot.go to avoid an import cycle
// concern between config and pipeline (pipeline has no dependency back on
// config, so this is a plain conversion function).
