package executor

import (
	"github.com/CollideNV/hadron/internal/pipeline"
)

// ComputeCost prices one agent call against the run's frozen cost table
// (spec.md §4.4.5, "frozen into the run's ConfigSnapshot so later price-table
// edits never retroactively change a running CR's accounting"). Unknown
// models fall back to the "default" entry.
func ComputeCost(cfg pipeline.ConfigSnapshot, model string, inputTokens, outputTokens int64) float64 {
	pricing, ok := cfg.CostTable[model]
	if !ok {
		pricing, ok = cfg.CostTable["default"]
		if !ok {
			return 0
		}
	}
	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPerMillionUSD
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPerMillionUSD
	return inputCost + outputCost
}

// ApplyCost merges one agent call's usage into the PipelineState's running
// totals, both globally and per-model, per spec.md §3's Cost group.
func ApplyCost(state *pipeline.PipelineState, model string, inputTokens, outputTokens int64, usd float64) {
	state.Cost.InputTokens += inputTokens
	state.Cost.OutputTokens += outputTokens
	state.Cost.TotalUSD += usd

	if state.Cost.ByModel == nil {
		state.Cost.ByModel = make(map[string]pipeline.ModelCost)
	}
	mc := state.Cost.ByModel[model]
	mc.InputTokens += inputTokens
	mc.OutputTokens += outputTokens
	mc.USD += usd
	state.Cost.ByModel[model] = mc
}
