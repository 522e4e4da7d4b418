package config

import "time"

// defaultConfig returns Hadron's built-in configuration, analogous to the
// teacher's GetBuiltinConfig() in pkg/config/builtin.go — the values a
// user's hadron.yaml is merged on top of.
func defaultConfig(configDir string) *Config {
	return &Config{
		configDir: configDir,
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "hadron",
			Database:        "hadron",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
		Pipeline: PipelineConfig{
			MaxVerificationLoops: 3,
			MaxReviewLoops:       3,
			MaxCILoops:           3,
			MaxTDDIterations:     5,
			MaxRebaseAttempts:    3,
			StageTimeout:         30 * time.Minute,
			AgentCallTimeout:     120 * time.Second,
			AgentCallMaxAttempts: 5,
			AgentCallBackoff:     60 * time.Second,
			OrphanScanInterval:   time.Minute,
			OrphanThreshold:      5 * time.Minute,
			EventCatchupLimit:    200,
			CostTable: map[string]ModelPricing{
				"default": {InputPerMillionUSD: 3.0, OutputPerMillionUSD: 15.0},
			},
		},
		Retention: RetentionConfig{
			TerminalRetention: 7 * 24 * time.Hour,
			CleanupInterval:   12 * time.Hour,
		},
		Agent: AgentBackendConfig{
			Target: "localhost:7070",
		},
		MCPServers: map[string]MCPServerConfig{},
		Masking: MaskingConfig{
			Enabled: true,
		},
		Storage: StorageConfig{
			BareRoot: "./data/repos",
			WorkRoot: "./data/worktrees",
		},
	}
}
