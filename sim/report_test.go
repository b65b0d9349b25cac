package sim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_CountsOutcomesAndDelays(t *testing.T) {
	// GIVEN one payment settled at once, one settled a tick late and one
	// left open
	cfg := testConfig(agentWith("A", 1_000), agentWith("B", 0))
	cfg.TicksPerDay = 3
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 600),
		scripted(0, "A", "B", 600),
		{Type: ScenarioBalanceAdjustment, Tick: ptr(int64(1)), Agent: "A", Delta: 200},
		scripted(1, "B", "A", 5_000),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN the run completes
	require.NoError(t, sim.Run(nil))
	r := sim.Report()

	// THEN volumes, outcomes and delays are reported
	assert.Equal(t, int64(3), r.Ticks)
	assert.Equal(t, 3, r.Arrivals)
	assert.Equal(t, 2, r.Settled)
	assert.Equal(t, 1, r.Unsettled)
	assert.Equal(t, int64(1_200), r.SettledValue)
	assert.InDelta(t, 1_200.0/6_200.0, r.SettlementRate, 1e-9)
	assert.Equal(t, 0.5, r.MeanSettlementDelay)
	require.Len(t, r.Agents, 2)
	assert.Equal(t, "A", r.Agents[0].ID)
	assert.Equal(t, int64(0), r.Agents[0].FinalBalance)
	assert.Equal(t, r.Agents[0].TotalCost+r.Agents[1].TotalCost, r.TotalCost)
}

func TestRunReport_SaveReport_WritesJSON(t *testing.T) {
	sim := newTestSimulator(t, testConfig(agentWith("A", 10), agentWith("B", 0)))
	advanceN(t, sim, 1)
	path := filepath.Join(t.TempDir(), "report.json")

	require.NoError(t, sim.Report().SaveReport(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(1), decoded.Ticks)
	assert.Len(t, decoded.Agents, 2)
}

func TestCalculatePercentile_EmptyInput_ReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, CalculatePercentile([]float64{}, 99))
	assert.Equal(t, 0.0, CalculatePercentile([]int64{}, 50))
}

func TestCalculatePercentile_Interpolates(t *testing.T) {
	data := []int64{0, 10, 20, 30}
	assert.Equal(t, 0.0, CalculatePercentile(data, 0))
	assert.Equal(t, 15.0, CalculatePercentile(data, 50))
	assert.Equal(t, 30.0, CalculatePercentile(data, 100))
	assert.Equal(t, 7.0, CalculatePercentile([]int64{7}, 99))
}

func TestCalculateMean(t *testing.T) {
	assert.Equal(t, 0.0, CalculateMean([]int{}))
	assert.Equal(t, 2.5, CalculateMean([]int64{1, 2, 3, 4}))
}
