package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

const minimalConfigYAML = `
ticks_per_day: 10
num_days: 2
rng_seed: 42
lsm:
  enable_bilateral: true
  enable_cycles: true
cost_rates:
  overdraft_bps_per_tick: 1
  delay_cost_per_tick_per_cent: 0.0001
agents:
  - id: BANK_A
    opening_balance: 100000
    unsecured_cap: 50000
    arrival_config:
      rate_per_tick: 0.5
      amount_distribution: {type: uniform, params: {min: 1000, max: 5000}}
      priority_distribution: {type: fixed, value: 5}
      counterparties: [{agent: BANK_B, weight: 1}]
      deadline_range: {min: 2, max: 8}
  - id: BANK_B
    opening_balance: 100000
scenario_events:
  - type: balance_adjustment
    tick: 4
    agent: BANK_B
    delta: 2500
`

func TestParseConfig_Minimal_ValidatesAndDefaults(t *testing.T) {
	// GIVEN a minimal configuration
	cfg, err := ParseConfig([]byte(minimalConfigYAML))
	require.NoError(t, err)

	// WHEN it is validated and defaulted
	require.NoError(t, cfg.Validate())
	d := cfg.withDefaults()

	// THEN unset optional fields take their documented defaults
	assert.Equal(t, int64(20), d.TotalTicks())
	assert.Equal(t, int64(42), d.Seed)
	assert.Equal(t, defaultEODRushThreshold, *d.EODRushThreshold)
	assert.Equal(t, Queue2FIFO, d.Queue2Ordering)
	assert.Equal(t, defaultMaxCycleLength, *d.LSM.MaxCycleLength)
	assert.Equal(t, defaultMaxIterations, *d.LSM.MaxIterations)
	assert.Equal(t, defaultMaxCyclesPerTick, *d.LSM.MaxCyclesPerTick)
	assert.Equal(t, defaultOverdueMultiplier, *d.CostRates.OverdueDelayMultiplier)
	assert.Nil(t, cfg.EODRushThreshold, "defaulting must not mutate the original")
}

func TestParseConfig_UnknownField_Rejected(t *testing.T) {
	_, err := ParseConfig([]byte("ticks_per_day: 10\nnum_dayz: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_dayz")
}

func TestConfig_Digest_StableAndSensitive(t *testing.T) {
	a, err := ParseConfig([]byte(minimalConfigYAML))
	require.NoError(t, err)
	b, err := ParseConfig([]byte(minimalConfigYAML))
	require.NoError(t, err)

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)

	b.Seed++
	db, err = b.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestConfig_Validate_RejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"zero ticks per day", func(c *Config) { c.TicksPerDay = 0 }, "ticks_per_day"},
		{"eod threshold above one", func(c *Config) { c.EODRushThreshold = ptr(1.5) }, "eod_rush_threshold"},
		{"unknown queue ordering", func(c *Config) { c.Queue2Ordering = "lifo" }, "queue2_ordering"},
		{"cycle length one", func(c *Config) {
			c.LSM.EnableBilateral = false
			c.LSM.MaxCycleLength = ptr(1)
		}, "lsm.max_cycle_length"},
		{"cycle length two with bilateral offsetting", func(c *Config) { c.LSM.MaxCycleLength = ptr(2) }, "lsm.max_cycle_length"},
		{"zero cycles per tick", func(c *Config) { c.LSM.MaxCyclesPerTick = ptr(0) }, "lsm.max_cycles_per_tick"},
		{"zero iterations", func(c *Config) { c.LSM.MaxIterations = ptr(0) }, "lsm.max_iterations"},
		{"negative rate", func(c *Config) { c.CostRates.OverdraftBpsPerTick = -1 }, "cost_rates.overdraft_bps_per_tick"},
		{"no agents", func(c *Config) { c.Agents = nil }, "agents"},
		{"duplicate agent", func(c *Config) { c.Agents[1].ID = "A" }, "agents[1].id"},
		{"negative credit", func(c *Config) { c.Agents[0].UnsecuredCap = -1 }, "agents[0].unsecured_cap"},
		{"haircut above one", func(c *Config) { c.Agents[0].CollateralHaircut = 1.2 }, "agents[0].collateral_haircut"},
		{"capacity below posted", func(c *Config) { c.Agents[0].PostedCollateral = 10 }, "agents[0].max_collateral_capacity"},
		{"opening overdraft beyond credit", func(c *Config) { c.Agents[0].OpeningBalance = -1 }, "agents[0].opening_balance"},
		{"limit for unknown counterparty", func(c *Config) {
			c.Agents[0].BilateralLimits = map[string]int64{"Z": 10}
		}, "agents[0].bilateral_limits.Z"},
		{"two schedules", func(c *Config) {
			c.ScenarioEvents = []ScenarioEventConfig{{Type: ScenarioBalanceAdjustment, Tick: ptr(int64(1)), Day: ptr(int64(0)), Agent: "A", Delta: 1}}
		}, "scenario_events[0]"},
		{"tick past end", func(c *Config) {
			c.ScenarioEvents = []ScenarioEventConfig{{Type: ScenarioBalanceAdjustment, Tick: ptr(int64(10)), Agent: "A", Delta: 1}}
		}, "scenario_events[0].tick"},
		{"field unused by type", func(c *Config) {
			c.ScenarioEvents = []ScenarioEventConfig{{Type: ScenarioBalanceAdjustment, Tick: ptr(int64(1)), Agent: "A", Delta: 1, Amount: 5}}
		}, "scenario_events[0].amount"},
		{"missing required field", func(c *Config) {
			c.ScenarioEvents = []ScenarioEventConfig{{Type: ScenarioArrivalRateChange, Tick: ptr(int64(1))}}
		}, "scenario_events[0].multiplier"},
		{"unknown rate name", func(c *Config) {
			c.ScenarioEvents = []ScenarioEventConfig{{Type: ScenarioCostRateChange, Tick: ptr(int64(1)), Rates: map[string]float64{"interest": 1}}}
		}, "scenario_events[0].rates.interest"},
		{"unknown event type", func(c *Config) {
			c.ScenarioEvents = []ScenarioEventConfig{{Type: "meteor", Tick: ptr(int64(1))}}
		}, "scenario_events[0].type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a valid configuration with one field broken
			cfg := testConfig(agentWith("A", 0), agentWith("B", 0))
			tc.mutate(cfg)

			// WHEN it is validated
			err := cfg.Validate()

			// THEN the error names the offending field
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestLoadConfig_PolicyFileResolvesRelativeToConfig(t *testing.T) {
	// GIVEN a config and a policy file side by side in a directory
	dir := t.TempDir()
	policyYAML := "policy_id: hold_all\npayment_tree: {type: action, node_id: h, action: Hold}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hold.yaml"), []byte(policyYAML), 0o644))
	configYAML := `
ticks_per_day: 4
num_days: 1
agents:
  - id: A
    opening_balance: 1000
    policy_file: hold.yaml
  - id: B
scenario_events:
  - {type: custom_transaction_arrival, tick: 0, from_agent: A, to_agent: B, amount: 100}
`
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))

	// WHEN it is loaded and run for a tick
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "hold.yaml"), cfg.Agents[0].PolicyFile)
	sim := newTestSimulator(t, cfg)
	advanceN(t, sim, 1)

	// THEN the file's policy governs A
	assert.Equal(t, StatusPending, txStatus(t, sim, "tx-000001"))
	q1, _ := sim.Queue1("A")
	assert.Equal(t, []string{"tx-000001"}, q1)
}

func TestNewSimulator_PolicyAndPolicyFile_Rejected(t *testing.T) {
	a := agentWith("A", 0)
	a.Policy = mustDocument(t, "policy_id: x\npayment_tree: {type: action, node_id: r, action: Release}\n")
	a.PolicyFile = "other.yaml"

	_, err := NewSimulator(testConfig(a, agentWith("B", 0)))

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "agents[0].policy", cerr.Field)
}

func TestParseConfig_ExplicitZeroLSMLimits_Rejected(t *testing.T) {
	// GIVEN a minimal config and YAML asking for zero iterations and zero cycles
	cfg, err := ParseConfig([]byte(minimalConfigYAML))
	require.NoError(t, err)
	zero, err := ParseConfig([]byte(`
ticks_per_day: 10
num_days: 1
lsm: {enable_bilateral: true, enable_cycles: true, max_iterations: 0, max_cycles_per_tick: 0}
agents: [{id: A}, {id: B}]
`))
	require.NoError(t, err)

	// WHEN both are validated
	require.NoError(t, cfg.Validate())
	err = zero.Validate()

	// THEN the explicit zero is reported, not replaced by the default
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "lsm.max_cycles_per_tick", cerr.Field)
	require.NotNil(t, zero.LSM.MaxIterations)
	assert.Equal(t, 0, *zero.LSM.MaxIterations)
}

func TestNewSimulator_TwoAgentCycleLimit(t *testing.T) {
	ring := []ScenarioEventConfig{
		scripted(0, "A", "B", 100),
		scripted(0, "B", "C", 100),
		scripted(0, "C", "A", 100),
	}

	t.Run("rejected while bilateral offsetting is on", func(t *testing.T) {
		// GIVEN a gridlocked ring with cycles capped at two agents
		cfg := testConfig(agentWith("A", 0), agentWith("B", 0), agentWith("C", 0))
		cfg.LSM.MaxCycleLength = ptr(2)
		cfg.ScenarioEvents = ring

		// WHEN the simulator is built
		_, err := NewSimulator(cfg)

		// THEN the unusable cycle limit is refused up front
		var cerr *ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "lsm.max_cycle_length", cerr.Field)
		assert.Contains(t, cerr.Error(), "bilateral offsetting")
	})

	t.Run("allowed and used when bilateral offsetting is off", func(t *testing.T) {
		// GIVEN mutual payments between two empty banks and only cycle netting
		cfg := testConfig(agentWith("A", 0), agentWith("B", 0))
		cfg.LSM = LSMConfig{EnableCycles: true, MaxCycleLength: ptr(2)}
		cfg.ScenarioEvents = []ScenarioEventConfig{scripted(0, "A", "B", 100), scripted(0, "B", "A", 100)}
		sim := newTestSimulator(t, cfg)

		// WHEN the first tick runs
		advanceN(t, sim, 1)

		// THEN the pair settles as a two-agent cycle
		assert.Empty(t, sim.Queue2())
		assert.Len(t, eventsOfKind(sim, eventlog.KindCycleSettled), 1)
	})
}
