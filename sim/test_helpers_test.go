package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/workload"
)

func ptr[T any](v T) *T { return &v }

// testRates are small enough that a single tick's costs are easy to
// compute by hand.
func testRates() CostRatesConfig {
	return CostRatesConfig{
		OverdraftBpsPerTick:      10,
		DelayCostPerTickPerCent:  0.001,
		CollateralCostPerTickBps: 2,
		DeadlinePenalty:          500,
		EODPenaltyPerTransaction: 1000,
		SplitFrictionCost:        50,
	}
}

// testConfig is a one-day, ten-tick run with both netting mechanisms on.
func testConfig(agents ...AgentConfig) *Config {
	return &Config{
		TicksPerDay: 10,
		NumDays:     1,
		Seed:        7,
		LSM:         LSMConfig{EnableBilateral: true, EnableCycles: true},
		CostRates:   testRates(),
		Agents:      agents,
	}
}

func agentWith(id string, balance int64) AgentConfig {
	return AgentConfig{ID: id, OpeningBalance: balance}
}

// scripted schedules a payment outside the RNG.
func scripted(tick int64, from, to string, amount int64) ScenarioEventConfig {
	return ScenarioEventConfig{
		Type:      ScenarioCustomArrival,
		Tick:      ptr(tick),
		FromAgent: from,
		ToAgent:   to,
		Amount:    amount,
	}
}

func newTestSimulator(t *testing.T, cfg *Config) *Simulator {
	t.Helper()
	sim, err := NewSimulator(cfg)
	require.NoError(t, err)
	return sim
}

func advanceN(t *testing.T, sim *Simulator, n int) []TickResult {
	t.Helper()
	out := make([]TickResult, 0, n)
	for i := 0; i < n; i++ {
		res, err := sim.Advance()
		require.NoError(t, err)
		require.NoError(t, sim.CheckInvariants())
		out = append(out, res)
	}
	return out
}

func eventsOfKind(sim *Simulator, kinds ...eventlog.Kind) []eventlog.Event {
	return sim.Events(eventlog.Filter{Kinds: kinds})
}

func txStatus(t *testing.T, sim *Simulator, id string) TransactionStatus {
	t.Helper()
	tx, err := sim.Transaction(id)
	require.NoError(t, err)
	return tx.Status
}

// stochasticConfig is a four-bank network with random arrivals, collateral
// and a mix of policies; used by the determinism and replay tests.
func stochasticConfig(seed int64) *Config {
	arrivals := func(self string, others ...string) *workload.ArrivalConfig {
		cps := make([]workload.CounterpartyWeight, len(others))
		for i, o := range others {
			cps[i] = workload.CounterpartyWeight{Agent: o, Weight: float64(i + 1)}
		}
		return &workload.ArrivalConfig{
			RatePerTick:    1.5,
			Amount:         workload.DistSpec{Type: "log_normal", Params: map[string]float64{"mean": 9, "std_dev": 1}},
			Priority:       workload.PrioritySpec{Type: "uniform", Min: ptr(0), Max: ptr(10)},
			Counterparties: cps,
			Deadline:       workload.DeadlineRange{Min: 3, Max: 12},
			Divisible:      self == "B" || self == "D",
		}
	}
	cfg := &Config{
		TicksPerDay:        12,
		NumDays:            2,
		Seed:               seed,
		LSM:                LSMConfig{EnableBilateral: true, EnableCycles: true},
		CostRates:          testRates(),
		PriorityEscalation: &EscalationConfig{StartTicksBeforeDeadline: 4, MaxBoost: 3},
		Queue2Ordering:     Queue2Priority,
		Agents: []AgentConfig{
			{ID: "A", OpeningBalance: 20_000, UnsecuredCap: 10_000, Arrivals: arrivals("A", "B", "C", "D")},
			{ID: "B", OpeningBalance: 5_000, PostedCollateral: 20_000, CollateralHaircut: 0.1,
				MaxCollateralCapacity: 50_000, Arrivals: arrivals("B", "A", "C", "D")},
			{ID: "C", OpeningBalance: 15_000, BilateralLimits: map[string]int64{"A": 40_000},
				Arrivals: arrivals("C", "A", "B", "D")},
			{ID: "D", OpeningBalance: 0, UnsecuredCap: 30_000, MultilateralLimit: ptr(int64(60_000)),
				ReleaseBudget: ptr(int64(25_000)), Arrivals: arrivals("D", "A", "B", "C")},
		},
		ScenarioEvents: []ScenarioEventConfig{
			{Type: ScenarioBalanceAdjustment, DailyAt: ptr(int64(6)), Agent: "D", Delta: 5_000},
			{Type: ScenarioArrivalRateChange, Day: ptr(int64(1)), Multiplier: ptr(2.0)},
			{Type: ScenarioCollateralAdjustment, Tick: ptr(int64(3)), Agent: "B", Delta: 10_000},
		},
	}
	return cfg
}
