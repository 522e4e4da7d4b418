package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the subset of hadron.yaml a user may override; it is
// merged onto defaultConfig() with mergo the same way the teacher merges
// tarsy.yaml onto GetBuiltinConfig() in pkg/config/loader.go.
type yamlConfig struct {
	HTTP       *HTTPConfig                `yaml:"http"`
	Database   *DatabaseConfig            `yaml:"database"`
	Pipeline   *PipelineConfig            `yaml:"pipeline"`
	Retention  *RetentionConfig           `yaml:"retention"`
	Agent      *AgentBackendConfig        `yaml:"agent"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
}

// Initialize loads hadron.yaml from configDir (if present), merges it onto
// the built-in defaults, validates the result, and returns a ready-to-use
// Config. Mirrors the teacher's config.Initialize flow in pkg/config/loader.go.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := defaultConfig(configDir)

	path := filepath.Join(configDir, "hadron.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = ExpandEnv(data)
		var user yamlConfig
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
		if err := mergeUser(cfg, &user); err != nil {
			return nil, fmt.Errorf("failed to merge hadron.yaml: %w", err)
		}
	case os.IsNotExist(err):
		log.Info("hadron.yaml not found, using built-in defaults")
	default:
		return nil, fmt.Errorf("failed to read hadron.yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"listen_addr", cfg.HTTP.ListenAddr,
		"mcp_servers", len(cfg.MCPServers))

	return cfg, nil
}

// mergeUser merges user-provided sections onto the built-in defaults,
// non-zero-value-wins, matching the teacher's mergo.WithOverride usage for
// its QueueConfig merge in pkg/config/loader.go.
func mergeUser(cfg *Config, user *yamlConfig) error {
	if user.HTTP != nil {
		if err := mergo.Merge(&cfg.HTTP, user.HTTP, mergo.WithOverride); err != nil {
			return err
		}
	}
	if user.Database != nil {
		if err := mergo.Merge(&cfg.Database, user.Database, mergo.WithOverride); err != nil {
			return err
		}
	}
	if user.Pipeline != nil {
		if err := mergo.Merge(&cfg.Pipeline, user.Pipeline, mergo.WithOverride); err != nil {
			return err
		}
	}
	if user.Retention != nil {
		if err := mergo.Merge(&cfg.Retention, user.Retention, mergo.WithOverride); err != nil {
			return err
		}
	}
	if user.Agent != nil {
		if err := mergo.Merge(&cfg.Agent, user.Agent, mergo.WithOverride); err != nil {
			return err
		}
	}
	for id, server := range user.MCPServers {
		cfg.MCPServers[id] = server
	}
	return nil
}
