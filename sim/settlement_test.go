package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

func TestSubmit_SufficientLiquidity_SettlesImmediately(t *testing.T) {
	// GIVEN A with 10,000.00 paying B 2,500.00 at tick 0
	cfg := testConfig(agentWith("A", 1_000_000), agentWith("B", 0))
	cfg.ScenarioEvents = []ScenarioEventConfig{scripted(0, "A", "B", 250_000)}
	sim := newTestSimulator(t, cfg)

	// WHEN one tick runs
	advanceN(t, sim, 1)

	// THEN the payment settles gross and balances move by its amount
	assert.Equal(t, StatusSettled, txStatus(t, sim, "tx-000001"))
	balA, _ := sim.Balance("A")
	balB, _ := sim.Balance("B")
	assert.Equal(t, int64(750_000), balA)
	assert.Equal(t, int64(250_000), balB)
	require.Len(t, eventsOfKind(sim, eventlog.KindRtgsSettled), 1)
	assert.Empty(t, sim.Queue2())
}

func TestSubmit_InsufficientLiquidity_QueuesThenRetrySettles(t *testing.T) {
	// GIVEN A with nothing paying B 500, and a top-up of A at tick 1
	cfg := testConfig(agentWith("A", 0), agentWith("B", 0))
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 500),
		{Type: ScenarioBalanceAdjustment, Tick: ptr(int64(1)), Agent: "A", Delta: 1_000},
	}
	sim := newTestSimulator(t, cfg)

	// WHEN tick 0 runs
	advanceN(t, sim, 1)

	// THEN the payment waits in Queue 2
	assert.Equal(t, []string{"tx-000001"}, sim.Queue2())
	queued := eventsOfKind(sim, eventlog.KindRtgsQueued)
	require.Len(t, queued, 1)
	assert.Equal(t, ReasonInsufficientLiquidity, queued[0].Reason)

	// WHEN tick 1 runs after the top-up
	advanceN(t, sim, 1)

	// THEN the retry settles it
	tx, err := sim.Transaction("tx-000001")
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, tx.Status)
	assert.Equal(t, int64(1), tx.SettledTick)
	assert.Len(t, eventsOfKind(sim, eventlog.KindQueueSettled), 1)
	assert.Equal(t, int64(1_000), sim.ExternalInjections())
}

func TestBilateralOffset_MutualPaymentsWithOneSideIlliquid(t *testing.T) {
	// GIVEN A with 0 and B with 1,000.00, each owing the other 1,000.00 at tick 0
	cfg := testConfig(agentWith("A", 0), agentWith("B", 100_000))
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 100_000),
		scripted(0, "B", "A", 100_000),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN one tick runs
	advanceN(t, sim, 1)

	// THEN both payments settle by offsetting
	assert.Equal(t, StatusSettled, txStatus(t, sim, "tx-000001"))
	assert.Equal(t, StatusSettled, txStatus(t, sim, "tx-000002"))
	offsets := eventsOfKind(sim, eventlog.KindBilateralOffset)
	require.Len(t, offsets, 1)
	assert.Len(t, offsets[0].Legs, 2)

	// THEN balances are unchanged and A never used credit
	balA, _ := sim.Balance("A")
	balB, _ := sim.Balance("B")
	assert.Equal(t, int64(0), balA)
	assert.Equal(t, int64(100_000), balB)
	costs, err := sim.Costs("A")
	require.NoError(t, err)
	assert.Equal(t, int64(0), costs.Overdraft)
	assert.Empty(t, sim.Queue2())
}

func TestBilateralOffset_NetPayerMustCoverNetOutflow(t *testing.T) {
	// GIVEN A owes B 300 (queued at tick 0) and B owes A 500 from tick 1,
	// neither holding liquidity
	cfg := testConfig(agentWith("A", 0), agentWith("B", 0))
	cfg.LSM.EnableCycles = false
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 300),
		scripted(1, "B", "A", 500),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN two ticks run
	advanceN(t, sim, 2)

	// THEN nothing offsets: B cannot cover its net outflow of 200
	assert.Equal(t, StatusPending, txStatus(t, sim, "tx-000001"))
	assert.Equal(t, StatusPending, txStatus(t, sim, "tx-000002"))
	assert.Empty(t, eventsOfKind(sim, eventlog.KindBilateralOffset))

	// WHEN B receives enough to cover its net outflow of 200
	sim2 := newTestSimulator(t, withEvents(cfg, ScenarioEventConfig{
		Type: ScenarioBalanceAdjustment, Tick: ptr(int64(1)), Agent: "B", Delta: 200,
	}))
	advanceN(t, sim2, 2)

	// THEN both settle through one offset and A ends with the net 200
	assert.Equal(t, StatusSettled, txStatus(t, sim2, "tx-000001"))
	assert.Equal(t, StatusSettled, txStatus(t, sim2, "tx-000002"))
	balA, _ := sim2.Balance("A")
	assert.Equal(t, int64(200), balA)
}

func withEvents(cfg *Config, extra ...ScenarioEventConfig) *Config {
	out := *cfg
	out.ScenarioEvents = append(append([]ScenarioEventConfig(nil), cfg.ScenarioEvents...), extra...)
	return &out
}

func TestBilateralOffset_DivisibleLargerSidePartiallySettles(t *testing.T) {
	// GIVEN a queued divisible A→B payment of 1,000 and a B→A payment of 400,
	// neither side holding liquidity
	cfg := testConfig(agentWith("A", 0), agentWith("B", 0))
	cfg.ScenarioEvents = []ScenarioEventConfig{
		{Type: ScenarioCustomArrival, Tick: ptr(int64(0)), FromAgent: "A", ToAgent: "B", Amount: 1_000, Divisible: true},
		scripted(1, "B", "A", 400),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN B's payment is released against A's queued one
	advanceN(t, sim, 2)

	// THEN B's payment settles in full and 400 of A's settles against it
	assert.Equal(t, StatusSettled, txStatus(t, sim, "tx-000002"))
	tx, err := sim.Transaction("tx-000001")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallySettled, tx.Status)
	assert.Equal(t, int64(600), tx.RemainingAmount)
	offsets := eventsOfKind(sim, eventlog.KindBilateralOffset)
	require.Len(t, offsets, 1)
	assert.Equal(t, ReasonEntryOffset, offsets[0].Reason)
}

func TestCycleSettlement_ThreeAgentRing_SettlesAtomically(t *testing.T) {
	// GIVEN A→B, B→C and C→A payments of 1,000 with no liquidity anywhere
	cfg := testConfig(agentWith("A", 0), agentWith("B", 0), agentWith("C", 0))
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 1_000),
		scripted(0, "B", "C", 1_000),
		scripted(0, "C", "A", 1_000),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN one tick runs
	advanceN(t, sim, 1)

	// THEN one cycle settles all three legs and nobody's balance moves
	cycles := eventsOfKind(sim, eventlog.KindCycleSettled)
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0].Legs, 3)
	for _, id := range []string{"tx-000001", "tx-000002", "tx-000003"} {
		assert.Equal(t, StatusSettled, txStatus(t, sim, id), id)
	}
	for _, id := range sim.AgentIDs() {
		bal, _ := sim.Balance(id)
		assert.Equal(t, int64(0), bal, id)
	}
}

func TestCycleSettlement_InfeasibleCycle_LeavesEverythingQueued(t *testing.T) {
	// GIVEN a ring where A would be a net payer of 600 with no liquidity
	cfg := testConfig(agentWith("A", 0), agentWith("B", 0), agentWith("C", 0))
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 1_000),
		scripted(0, "B", "C", 1_000),
		scripted(0, "C", "A", 400),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN one tick runs
	advanceN(t, sim, 1)

	// THEN nothing settles, partially or otherwise
	assert.Empty(t, eventsOfKind(sim, eventlog.KindCycleSettled))
	assert.Len(t, sim.Queue2(), 3)
	for _, tx := range sim.Transactions() {
		assert.Equal(t, tx.Amount, tx.RemainingAmount, tx.ID)
	}
}

func TestCycleSettlement_TwoCyclesWhenBilateralDisabled(t *testing.T) {
	// GIVEN bilateral offsetting off and a mutual pair of queued payments
	cfg := testConfig(agentWith("A", 0), agentWith("B", 0))
	cfg.LSM.EnableBilateral = false
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 700),
		scripted(0, "B", "A", 700),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN one tick runs
	advanceN(t, sim, 1)

	// THEN the pair settles as a length-two cycle
	cycles := eventsOfKind(sim, eventlog.KindCycleSettled)
	require.Len(t, cycles, 1)
	assert.Equal(t, 2.0, cycles[0].Value)
	assert.Empty(t, sim.Queue2())
}

func TestLimits_BilateralLimit_QueuesAndRecordsBreach(t *testing.T) {
	// GIVEN a liquid A whose bilateral limit towards B is 300
	a := agentWith("A", 10_000)
	a.BilateralLimits = map[string]int64{"B": 300}
	cfg := testConfig(a, agentWith("B", 0))
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 200),
		scripted(0, "A", "B", 500),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN one tick runs
	advanceN(t, sim, 1)

	// THEN the first payment settles, the second breaches the limit and queues
	assert.Equal(t, StatusSettled, txStatus(t, sim, "tx-000001"))
	assert.Equal(t, []string{"tx-000002"}, sim.Queue2())
	breaches := eventsOfKind(sim, eventlog.KindLimitBreach)
	require.Len(t, breaches, 1)
	assert.Equal(t, ReasonBilateralLimit, breaches[0].Reason)
	agent, err := sim.Agent("A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agent.LimitBreaches)
	assert.Equal(t, int64(200), agent.DailyOutflow)
}

func TestLimits_MultilateralLimitResetsAtEndOfDay(t *testing.T) {
	// GIVEN A limited to 1,000 of outflow per day over two two-tick days
	a := agentWith("A", 10_000)
	a.MultilateralLimit = ptr(int64(1_000))
	cfg := testConfig(a, agentWith("B", 0))
	cfg.TicksPerDay, cfg.NumDays = 2, 2
	cfg.ScenarioEvents = []ScenarioEventConfig{
		scripted(0, "A", "B", 800),
		scripted(0, "A", "B", 800),
	}
	sim := newTestSimulator(t, cfg)

	// WHEN day 0 runs
	advanceN(t, sim, 2)

	// THEN only one payment fits under the limit
	assert.Equal(t, StatusSettled, txStatus(t, sim, "tx-000001"))
	assert.Equal(t, StatusOverdue, txStatus(t, sim, "tx-000002"))

	// WHEN day 1 starts with fresh counters
	advanceN(t, sim, 1)

	// THEN the retry settles the second payment
	assert.Equal(t, StatusSettled, txStatus(t, sim, "tx-000002"))
}
