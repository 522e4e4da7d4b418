package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CollideNV/hadron/internal/pipeline"
)

func testCostTable() pipeline.ConfigSnapshot {
	return pipeline.ConfigSnapshot{
		CostTable: map[string]pipeline.Pricing{
			"gpt-5":   {InputPerMillionUSD: 3, OutputPerMillionUSD: 15},
			"default": {InputPerMillionUSD: 1, OutputPerMillionUSD: 2},
		},
	}
}

func TestComputeCost_UsesModelSpecificPricing(t *testing.T) {
	cost := ComputeCost(testCostTable(), "gpt-5", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 1e-9)
}

func TestComputeCost_FallsBackToDefaultForUnknownModel(t *testing.T) {
	cost := ComputeCost(testCostTable(), "some-unlisted-model", 1_000_000, 1_000_000)
	assert.InDelta(t, 3.0, cost, 1e-9)
}

func TestComputeCost_ZeroWhenNoDefaultAndUnknownModel(t *testing.T) {
	cfg := pipeline.ConfigSnapshot{CostTable: map[string]pipeline.Pricing{}}
	cost := ComputeCost(cfg, "whatever", 1_000_000, 1_000_000)
	assert.Zero(t, cost)
}

func TestApplyCost_AccumulatesGloballyAndPerModel(t *testing.T) {
	state := &pipeline.PipelineState{}

	ApplyCost(state, "gpt-5", 100, 50, 1.5)
	ApplyCost(state, "gpt-5", 200, 100, 3.0)
	ApplyCost(state, "claude", 10, 5, 0.1)

	assert.Equal(t, int64(310), state.Cost.InputTokens)
	assert.Equal(t, int64(155), state.Cost.OutputTokens)
	assert.InDelta(t, 4.6, state.Cost.TotalUSD, 1e-9)

	gpt5 := state.Cost.ByModel["gpt-5"]
	assert.Equal(t, int64(300), gpt5.InputTokens)
	assert.Equal(t, int64(150), gpt5.OutputTokens)
	assert.InDelta(t, 4.5, gpt5.USD, 1e-9)

	claude := state.Cost.ByModel["claude"]
	assert.InDelta(t, 0.1, claude.USD, 1e-9)
}
