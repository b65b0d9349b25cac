package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownAgents = map[string]bool{"A": true, "B": true, "C": true}

func TestArrivalConfig_Validate_Accepts(t *testing.T) {
	cfg := testArrivalConfig()
	require.NoError(t, cfg.Validate("A", knownAgents))
}

func TestArrivalConfig_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *ArrivalConfig)
		want   string
	}{
		{"negative rate", func(c *ArrivalConfig) { c.RatePerTick = -1 }, "rate_per_tick"},
		{"unknown distribution", func(c *ArrivalConfig) { c.Amount.Type = "zipf" }, "unknown distribution type"},
		{"unused distribution param", func(c *ArrivalConfig) { c.Amount.Params["mean"] = 3 }, "not used by uniform"},
		{"fractional uniform bound", func(c *ArrivalConfig) { c.Amount.Params["max"] = 5000.5 }, "whole number"},
		{"missing distribution param", func(c *ArrivalConfig) { delete(c.Amount.Params, "max") }, `"max"`},
		{"priority out of range", func(c *ArrivalConfig) { c.Priority.Max = intPtr(11) }, "max must be in [0, 10]"},
		{"priority field of other type", func(c *ArrivalConfig) { c.Priority.Value = intPtr(3) }, `"value" is not used`},
		{"self payment", func(c *ArrivalConfig) { c.Counterparties[0].Agent = "A" }, "cannot pay itself"},
		{"unknown counterparty", func(c *ArrivalConfig) { c.Counterparties[0].Agent = "Z" }, "unknown agent"},
		{"zero total weight", func(c *ArrivalConfig) {
			c.Counterparties[0].Weight = 0
			c.Counterparties[1].Weight = 0
		}, "positive"},
		{"deadline min zero", func(c *ArrivalConfig) { c.Deadline.Min = 0 }, "deadline_range.min"},
		{"deadline inverted", func(c *ArrivalConfig) { c.Deadline.Max = 1 }, "deadline_range.max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testArrivalConfig()
			tt.mutate(&cfg)
			err := cfg.Validate("A", knownAgents)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDistSpec_Validate_ReportsFirstBadParamInNameOrder(t *testing.T) {
	// GIVEN several parameters the distribution does not use
	spec := DistSpec{Type: "exponential", Params: map[string]float64{
		"mean": 10, "zeta": 1, "alpha": 1, "kappa": 1,
	}}

	// WHEN it is validated repeatedly
	// THEN the same parameter is named every time
	for i := 0; i < 20; i++ {
		err := spec.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"alpha"`)
	}
}
