package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/internal/testutil"
)

// TestGoldenScenarios runs each scenario in testdata/goldendataset.json
// to completion and compares its outcome with the recorded figures.
func TestGoldenScenarios(t *testing.T) {
	dataset := testutil.LoadGoldenDataset(t)
	require.NotEmpty(t, dataset.Tests)

	for _, tc := range dataset.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			cfg, err := LoadConfig(testutil.ScenarioPath(t, tc.Scenario))
			require.NoError(t, err)
			sim := newTestSimulator(t, cfg)
			err = sim.Run(func(TickResult) error { return sim.CheckInvariants() })
			require.NoError(t, err)

			s := eventlog.Summarize(sim.AllEvents())
			want := tc.Metrics
			assert.Equal(t, want.Arrivals, s.Arrivals, "arrivals")
			assert.Equal(t, want.RtgsSettlements, s.RtgsSettlements, "rtgs_settlements")
			assert.Equal(t, want.QueueSettlements, s.QueueSettlements, "queue_settlements")
			assert.Equal(t, want.BilateralOffsets, s.BilateralOffsets, "bilateral_offsets")
			assert.Equal(t, want.CyclesSettled, s.CyclesSettled, "cycles_settled")
			assert.Equal(t, want.Overdue, s.Overdue, "overdue")
			assert.Equal(t, want.SettledValue, s.SettledValue, "settled_value")

			total := int64(0)
			for _, id := range sim.AgentIDs() {
				c, err := sim.Costs(id)
				require.NoError(t, err)
				total += c.Total()
			}
			assert.Equal(t, want.TotalCost, total, "total_cost")

			rate := 0.0
			if s.ArrivalValue > 0 {
				rate = float64(s.SettledValue) / float64(s.ArrivalValue)
			}
			testutil.AssertFloat64Equal(t, "settlement_rate", want.SettlementRate, rate, 1e-9)
		})
	}
}
