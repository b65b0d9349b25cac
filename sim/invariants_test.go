package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rtgs-sim/rtgs-sim/sim/workload"
)

// drawConfig builds a random but valid network: a handful of agents with
// mixed liquidity, credit and limits, random arrivals and a few scripted
// payments.
func drawConfig(t *rapid.T) *Config {
	n := rapid.IntRange(2, 5).Draw(t, "agents")
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("B%d", i)
	}
	agents := make([]AgentConfig, n)
	for i, id := range ids {
		var cps []workload.CounterpartyWeight
		for _, other := range ids {
			if other != id {
				cps = append(cps, workload.CounterpartyWeight{Agent: other, Weight: 1})
			}
		}
		posted := rapid.Int64Range(0, 20_000).Draw(t, "posted")
		a := AgentConfig{
			ID:                    id,
			OpeningBalance:        rapid.Int64Range(0, 50_000).Draw(t, "balance"),
			UnsecuredCap:          rapid.Int64Range(0, 20_000).Draw(t, "credit"),
			PostedCollateral:      posted,
			CollateralHaircut:     rapid.SampledFrom([]float64{0, 0.1, 0.5}).Draw(t, "haircut"),
			MaxCollateralCapacity: posted + rapid.Int64Range(0, 20_000).Draw(t, "headroom"),
			Arrivals: &workload.ArrivalConfig{
				RatePerTick:    rapid.Float64Range(0, 2).Draw(t, "rate"),
				Amount:         workload.DistSpec{Type: "uniform", Params: map[string]float64{"min": 100, "max": 30_000}},
				Priority:       workload.PrioritySpec{Type: "uniform", Min: ptr(0), Max: ptr(10)},
				Counterparties: cps,
				Deadline:       workload.DeadlineRange{Min: 1, Max: 6},
				Divisible:      rapid.Bool().Draw(t, "divisible"),
			},
		}
		if rapid.Bool().Draw(t, "limited") {
			a.MultilateralLimit = ptr(rapid.Int64Range(0, 100_000).Draw(t, "multilateral"))
		}
		agents[i] = a
	}
	cfg := &Config{
		TicksPerDay: rapid.Int64Range(2, 8).Draw(t, "ticks_per_day"),
		NumDays:     rapid.Int64Range(1, 2).Draw(t, "num_days"),
		Seed:        rapid.Int64().Draw(t, "seed"),
		LSM: LSMConfig{
			EnableBilateral: rapid.Bool().Draw(t, "bilateral"),
			EnableCycles:    rapid.Bool().Draw(t, "cycles"),
		},
		Queue2Ordering: rapid.SampledFrom([]string{Queue2FIFO, Queue2Priority}).Draw(t, "ordering"),
		WriteOffAtEOD:  rapid.Bool().Draw(t, "write_off"),
		CostRates:      testRates(),
		Agents:         agents,
	}
	for i := rapid.IntRange(0, 4).Draw(t, "scripted"); i > 0; i-- {
		from := rapid.IntRange(0, n-1).Draw(t, "from")
		to := (from + rapid.IntRange(1, n-1).Draw(t, "to_offset")) % n
		ev := scripted(rapid.Int64Range(0, cfg.TotalTicks()-1).Draw(t, "tick"), ids[from], ids[to],
			rapid.Int64Range(1, 40_000).Draw(t, "amount"))
		ev.Divisible = rapid.Bool().Draw(t, "scripted_divisible")
		cfg.ScenarioEvents = append(cfg.ScenarioEvents, ev)
	}
	return cfg
}

func TestProperty_MoneyIsConservedAndCreditNeverExceeded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := drawConfig(t)
		sim, err := NewSimulator(cfg)
		if err != nil {
			t.Fatalf("building simulator: %v", err)
		}
		err = sim.Run(func(res TickResult) error {
			return sim.CheckInvariants()
		})
		if err != nil {
			t.Fatalf("tick %d: %v", sim.CurrentTick(), err)
		}
	})
}

func TestProperty_QueuesHoldOnlyOpenTransactions(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sim, err := NewSimulator(drawConfig(t))
		if err != nil {
			t.Fatalf("building simulator: %v", err)
		}
		if err := sim.Run(nil); err != nil {
			t.Fatalf("run: %v", err)
		}

		seen := make(map[string]bool)
		for _, id := range sim.Queue2() {
			if seen[id] {
				t.Fatalf("%s queued twice", id)
			}
			seen[id] = true
			tx, _ := sim.Transaction(id)
			if tx.Status.IsTerminal() {
				t.Fatalf("%s is %s but still in queue 2", id, tx.Status)
			}
		}
		for _, tx := range sim.Transactions() {
			if tx.RemainingAmount < 0 || tx.RemainingAmount > tx.Amount {
				t.Fatalf("%s remaining %d outside [0, %d]", tx.ID, tx.RemainingAmount, tx.Amount)
			}
			open := !tx.Status.IsTerminal()
			if (tx.Status == StatusSettled && tx.RemainingAmount != 0) || (open && tx.RemainingAmount == 0) {
				t.Fatalf("%s status %s with remaining %d", tx.ID, tx.Status, tx.RemainingAmount)
			}
		}
	})
}

func TestDeterminism_SameSeedSameEvents(t *testing.T) {
	// GIVEN two simulators built from the same seeded configuration
	a := newTestSimulator(t, stochasticConfig(11))
	b := newTestSimulator(t, stochasticConfig(11))

	// WHEN both run to completion
	require.NoError(t, a.Run(nil))
	require.NoError(t, b.Run(nil))

	// THEN their logs and final states are identical
	assert.Equal(t, a.AllEvents(), b.AllEvents())
	da, err := a.StateDigest()
	require.NoError(t, err)
	db, err := b.StateDigest()
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestDeterminism_DifferentSeedDiverges(t *testing.T) {
	a := newTestSimulator(t, stochasticConfig(11))
	b := newTestSimulator(t, stochasticConfig(12))
	require.NoError(t, a.Run(nil))
	require.NoError(t, b.Run(nil))
	assert.NotEqual(t, a.AllEvents(), b.AllEvents())
}

func TestReplay_RebuildsIdenticalState(t *testing.T) {
	// GIVEN a completed stochastic run
	cfg := stochasticConfig(3)
	live := newTestSimulator(t, cfg)
	require.NoError(t, live.Run(nil))

	// WHEN its log is replayed onto a fresh state
	replayed, err := Replay(stochasticConfig(3), live.AllEvents())
	require.NoError(t, err)

	// THEN the state digest matches and the replay refuses to advance
	want, err := live.StateDigest()
	require.NoError(t, err)
	got, err := replayed.StateDigest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	_, err = replayed.Advance()
	assert.ErrorIs(t, err, ErrReplayReadOnly)
}

func TestReplay_TamperedEventIsRejected(t *testing.T) {
	// GIVEN a run whose log has a settlement with an inflated amount
	cfg := testConfig(agentWith("A", 1_000), agentWith("B", 0))
	cfg.ScenarioEvents = []ScenarioEventConfig{scripted(0, "A", "B", 400)}
	live := newTestSimulator(t, cfg)
	advanceN(t, live, 1)
	events := live.AllEvents()
	for i := range events {
		for j := range events[i].Legs {
			events[i].Legs[j].Amount = 5_000
		}
	}

	// WHEN it is replayed
	_, err := Replay(cfg, events)

	// THEN the apply step refuses it
	assert.Error(t, err)
}

func TestAdvance_AfterLastTick_ReturnsComplete(t *testing.T) {
	cfg := testConfig(agentWith("A", 0), agentWith("B", 0))
	cfg.TicksPerDay = 2
	sim := newTestSimulator(t, cfg)
	advanceN(t, sim, 2)
	assert.True(t, sim.Done())

	_, err := sim.Advance()
	assert.ErrorIs(t, err, ErrSimulationComplete)
}
