package config

import "github.com/CollideNV/hadron/internal/pipeline"

// Snapshot freezes the pipeline knobs of cfg into a pipeline.ConfigSnapshot,
// taken once at trigger time and stored on the CRRun (spec.md §3,
// "config_snapshot: frozen copy of runtime configuration taken at trigger
// time"). Later edits to cfg never retroactively affect a running CR.
func (c *Config) Snapshot() pipeline.ConfigSnapshot {
	costTable := make(map[string]pipeline.Pricing, len(c.Pipeline.CostTable))
	for model, p := range c.Pipeline.CostTable {
		costTable[model] = pipeline.Pricing{
			InputPerMillionUSD:  p.InputPerMillionUSD,
			OutputPerMillionUSD: p.OutputPerMillionUSD,
		}
	}
	return pipeline.ConfigSnapshot{
		MaxVerificationLoops: c.Pipeline.MaxVerificationLoops,
		MaxReviewLoops:       c.Pipeline.MaxReviewLoops,
		MaxCILoops:           c.Pipeline.MaxCILoops,
		MaxTDDIterations:     c.Pipeline.MaxTDDIterations,
		MaxRebaseAttempts:    c.Pipeline.MaxRebaseAttempts,
		StageTimeout:         c.Pipeline.StageTimeout,
		AgentCallTimeout:     c.Pipeline.AgentCallTimeout,
		CostTable:            costTable,
	}
}
