package config

import "fmt"

// Validator validates configuration comprehensively with clear error
// messages, mirroring the teacher's pkg/config/validator.go Validator/
// ValidateAll shape (fail-fast, one section at a time).
type Validator struct {
	cfg *Config
}

func NewValidator(cfg *Config) *Validator { return &Validator{cfg: cfg} }

func (v *Validator) ValidateAll() error {
	if err := v.validateHTTP(); err != nil {
		return fmt.Errorf("http validation failed: %w", err)
	}
	if err := v.validateDatabase(); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	if err := v.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}
	if err := v.validateAgent(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateHTTP() error {
	if v.cfg.HTTP.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	d := v.cfg.Database
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Database == "" {
		return fmt.Errorf("database is required")
	}
	if d.MaxIdleConns > d.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)", d.MaxIdleConns, d.MaxOpenConns)
	}
	if d.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	return nil
}

func (v *Validator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.MaxVerificationLoops < 1 {
		return fmt.Errorf("max_verification_loops must be at least 1")
	}
	if p.MaxReviewLoops < 1 {
		return fmt.Errorf("max_review_loops must be at least 1")
	}
	if p.MaxCILoops < 1 {
		return fmt.Errorf("max_ci_loops must be at least 1")
	}
	if p.MaxTDDIterations < 1 {
		return fmt.Errorf("max_tdd_iterations must be at least 1")
	}
	if p.MaxRebaseAttempts < 1 {
		return fmt.Errorf("max_rebase_attempts must be at least 1")
	}
	if p.StageTimeout <= 0 {
		return fmt.Errorf("stage_timeout must be positive")
	}
	if p.AgentCallTimeout <= 0 {
		return fmt.Errorf("agent_call_timeout must be positive")
	}
	if len(p.CostTable) == 0 {
		return fmt.Errorf("cost_table must have at least a \"default\" entry")
	}
	if _, ok := p.CostTable["default"]; !ok {
		return fmt.Errorf("cost_table must have a \"default\" entry")
	}
	return nil
}

func (v *Validator) validateAgent() error {
	if v.cfg.Agent.Target == "" {
		return fmt.Errorf("agent.target is required")
	}
	return nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
