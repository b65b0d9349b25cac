package sim

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rtgs-sim/rtgs-sim/sim/policy"
	"github.com/rtgs-sim/rtgs-sim/sim/workload"
)

// Config is the complete, immutable description of a simulation run.
// Loaded from YAML via LoadConfig(path); every field is consumed and
// unknown keys are rejected.
type Config struct {
	TicksPerDay        int64                 `yaml:"ticks_per_day" json:"ticks_per_day"`
	NumDays            int64                 `yaml:"num_days" json:"num_days"`
	Seed               int64                 `yaml:"rng_seed" json:"rng_seed"`
	EODRushThreshold   *float64              `yaml:"eod_rush_threshold,omitempty" json:"eod_rush_threshold,omitempty"`
	Queue2Ordering     string                `yaml:"queue2_ordering,omitempty" json:"queue2_ordering,omitempty"`
	WriteOffAtEOD      bool                  `yaml:"eod_write_off,omitempty" json:"eod_write_off,omitempty"`
	LSM                LSMConfig             `yaml:"lsm" json:"lsm"`
	CostRates          CostRatesConfig       `yaml:"cost_rates" json:"cost_rates"`
	PriorityEscalation *EscalationConfig     `yaml:"priority_escalation,omitempty" json:"priority_escalation,omitempty"`
	Agents             []AgentConfig         `yaml:"agents" json:"agents"`
	ScenarioEvents     []ScenarioEventConfig `yaml:"scenario_events,omitempty" json:"scenario_events,omitempty"`
}

// LSMConfig configures the liquidity-saving mechanism.
type LSMConfig struct {
	EnableBilateral bool `yaml:"enable_bilateral" json:"enable_bilateral"`
	EnableCycles    bool `yaml:"enable_cycles" json:"enable_cycles"`

	// Unset limits take their defaults; explicit values are validated as
	// written, zero included.
	MaxCycleLength   *int `yaml:"max_cycle_length,omitempty" json:"max_cycle_length,omitempty"`
	MaxCyclesPerTick *int `yaml:"max_cycles_per_tick,omitempty" json:"max_cycles_per_tick,omitempty"`
	MaxIterations    *int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
}

// CostRatesConfig holds the cost rates as written in YAML.
type CostRatesConfig struct {
	OverdraftBpsPerTick      float64  `yaml:"overdraft_bps_per_tick" json:"overdraft_bps_per_tick"`
	DelayCostPerTickPerCent  float64  `yaml:"delay_cost_per_tick_per_cent" json:"delay_cost_per_tick_per_cent"`
	CollateralCostPerTickBps float64  `yaml:"collateral_cost_per_tick_bps" json:"collateral_cost_per_tick_bps"`
	DeadlinePenalty          int64    `yaml:"deadline_penalty" json:"deadline_penalty"`
	EODPenaltyPerTransaction int64    `yaml:"eod_penalty_per_transaction" json:"eod_penalty_per_transaction"`
	SplitFrictionCost        int64    `yaml:"split_friction_cost" json:"split_friction_cost"`
	OverdueDelayMultiplier   *float64 `yaml:"overdue_delay_multiplier,omitempty" json:"overdue_delay_multiplier,omitempty"`
}

// EscalationConfig raises the priority of payments nearing their deadline.
type EscalationConfig struct {
	StartTicksBeforeDeadline int64 `yaml:"start_ticks_before_deadline" json:"start_ticks_before_deadline"`
	MaxBoost                 int   `yaml:"max_boost" json:"max_boost"`
}

// AgentConfig describes one bank.
type AgentConfig struct {
	ID                    string                  `yaml:"id" json:"id"`
	OpeningBalance        int64                   `yaml:"opening_balance" json:"opening_balance"`
	UnsecuredCap          int64                   `yaml:"unsecured_cap,omitempty" json:"unsecured_cap,omitempty"`
	PostedCollateral      int64                   `yaml:"posted_collateral,omitempty" json:"posted_collateral,omitempty"`
	CollateralHaircut     float64                 `yaml:"collateral_haircut,omitempty" json:"collateral_haircut,omitempty"`
	MaxCollateralCapacity int64                   `yaml:"max_collateral_capacity,omitempty" json:"max_collateral_capacity,omitempty"`
	ReleaseBudget         *int64                  `yaml:"release_budget_per_tick,omitempty" json:"release_budget_per_tick,omitempty"`
	BilateralLimits       map[string]int64        `yaml:"bilateral_limits,omitempty" json:"bilateral_limits,omitempty"`
	MultilateralLimit     *int64                  `yaml:"multilateral_limit,omitempty" json:"multilateral_limit,omitempty"`
	Policy                *policy.Document        `yaml:"policy,omitempty" json:"policy,omitempty"`
	PolicyFile            string                  `yaml:"policy_file,omitempty" json:"policy_file,omitempty"`
	Arrivals              *workload.ArrivalConfig `yaml:"arrival_config,omitempty" json:"arrival_config,omitempty"`
}

// ScenarioEventConfig is a scheduled intervention. Exactly one of Tick,
// Day and DailyAt selects when it fires; Type selects which of the
// remaining fields apply.
type ScenarioEventConfig struct {
	Type           string             `yaml:"type" json:"type"`
	Tick           *int64             `yaml:"tick,omitempty" json:"tick,omitempty"`
	Day            *int64             `yaml:"day,omitempty" json:"day,omitempty"`
	DailyAt        *int64             `yaml:"daily_at,omitempty" json:"daily_at,omitempty"`
	Agent          string             `yaml:"agent,omitempty" json:"agent,omitempty"`
	FromAgent      string             `yaml:"from_agent,omitempty" json:"from_agent,omitempty"`
	ToAgent        string             `yaml:"to_agent,omitempty" json:"to_agent,omitempty"`
	Amount         int64              `yaml:"amount,omitempty" json:"amount,omitempty"`
	Delta          int64              `yaml:"delta,omitempty" json:"delta,omitempty"`
	Priority       *int               `yaml:"priority,omitempty" json:"priority,omitempty"`
	DeadlineOffset *int64             `yaml:"deadline_offset,omitempty" json:"deadline_offset,omitempty"`
	Divisible      bool               `yaml:"divisible,omitempty" json:"divisible,omitempty"`
	Multiplier     *float64           `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	Rates          map[string]float64 `yaml:"rates,omitempty" json:"rates,omitempty"`
}

// Scenario event types.
const (
	ScenarioDirectTransfer       = "direct_transfer"
	ScenarioBalanceAdjustment    = "balance_adjustment"
	ScenarioCollateralAdjustment = "collateral_adjustment"
	ScenarioCostRateChange       = "cost_rate_change"
	ScenarioArrivalRateChange    = "arrival_rate_change"
	ScenarioCustomArrival        = "custom_transaction_arrival"
)

// Queue 2 orderings.
const (
	Queue2FIFO     = "fifo"
	Queue2Priority = "priority"
)

// Defaults applied to unset fields.
const (
	defaultEODRushThreshold  = 0.8
	defaultMaxCycleLength    = 4
	defaultMaxCyclesPerTick  = 10
	defaultMaxIterations     = 3
	defaultOverdueMultiplier = 5.0
	defaultScriptedPriority  = 5
)

// Valid value registries.
var (
	validQueue2Orderings = map[string]bool{Queue2FIFO: true, Queue2Priority: true}

	// scenarioFields lists the payload fields each scenario type reads;
	// the bool marks required ones.
	scenarioFields = map[string]map[string]bool{
		ScenarioDirectTransfer:       {"from_agent": true, "to_agent": true, "amount": true},
		ScenarioBalanceAdjustment:    {"agent": true, "delta": true},
		ScenarioCollateralAdjustment: {"agent": true, "delta": true},
		ScenarioCostRateChange:       {"rates": true},
		ScenarioArrivalRateChange:    {"agent": false, "multiplier": true},
		ScenarioCustomArrival: {"from_agent": true, "to_agent": true, "amount": true,
			"priority": false, "deadline_offset": false, "divisible": false},
	}
)

// LoadConfig reads and parses a YAML configuration file.
// Uses strict parsing: unrecognized keys (typos) are rejected. Relative
// policy_file paths are resolved against the config file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for i := range cfg.Agents {
		if f := cfg.Agents[i].PolicyFile; f != "" && !filepath.IsAbs(f) {
			cfg.Agents[i].PolicyFile = filepath.Join(dir, f)
		}
	}
	return cfg, nil
}

// ParseConfig decodes configuration YAML.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// withDefaults returns a copy with unset optional fields filled in.
func (c *Config) withDefaults() *Config {
	out := *c
	if out.EODRushThreshold == nil {
		v := defaultEODRushThreshold
		out.EODRushThreshold = &v
	}
	if out.Queue2Ordering == "" {
		out.Queue2Ordering = Queue2FIFO
	}
	if out.LSM.MaxCycleLength == nil {
		v := defaultMaxCycleLength
		out.LSM.MaxCycleLength = &v
	}
	if out.LSM.MaxCyclesPerTick == nil {
		v := defaultMaxCyclesPerTick
		out.LSM.MaxCyclesPerTick = &v
	}
	if out.LSM.MaxIterations == nil {
		v := defaultMaxIterations
		out.LSM.MaxIterations = &v
	}
	if out.CostRates.OverdueDelayMultiplier == nil {
		v := defaultOverdueMultiplier
		out.CostRates.OverdueDelayMultiplier = &v
	}
	return &out
}

// TotalTicks is ticks_per_day × num_days.
func (c *Config) TotalTicks() int64 {
	return c.TicksPerDay * c.NumDays
}

// Digest is a stable hash of the configuration, used to check that a
// snapshot is restored against the configuration that produced it.
func (c *Config) Digest() (string, error) {
	data, err := json.Marshal(c.withDefaults())
	if err != nil {
		return "", fmt.Errorf("hashing config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Validate checks every field. It returns the first problem found as a
// *ConfigError naming the field path.
func (c *Config) Validate() error {
	if c.TicksPerDay < 1 {
		return configErrorf("ticks_per_day", "must be >= 1, got %d", c.TicksPerDay)
	}
	if c.NumDays < 1 {
		return configErrorf("num_days", "must be >= 1, got %d", c.NumDays)
	}
	if c.EODRushThreshold != nil {
		if v := *c.EODRushThreshold; math.IsNaN(v) || v < 0 || v > 1 {
			return configErrorf("eod_rush_threshold", "must be in [0, 1], got %v", v)
		}
	}
	if c.Queue2Ordering != "" && !validQueue2Orderings[c.Queue2Ordering] {
		return configErrorf("queue2_ordering", "unknown ordering %q; valid: fifo, priority", c.Queue2Ordering)
	}
	if err := c.LSM.validate(); err != nil {
		return err
	}
	if err := c.CostRates.validate(); err != nil {
		return err
	}
	if e := c.PriorityEscalation; e != nil {
		if e.StartTicksBeforeDeadline < 1 {
			return configErrorf("priority_escalation.start_ticks_before_deadline", "must be >= 1, got %d", e.StartTicksBeforeDeadline)
		}
		if e.MaxBoost < 0 || e.MaxBoost > workload.MaxPriority {
			return configErrorf("priority_escalation.max_boost", "must be in [0, %d], got %d", workload.MaxPriority, e.MaxBoost)
		}
	}
	if len(c.Agents) == 0 {
		return configErrorf("agents", "at least one agent is required")
	}
	known := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return configErrorf(fmt.Sprintf("agents[%d].id", i), "must not be empty")
		}
		if known[a.ID] {
			return configErrorf(fmt.Sprintf("agents[%d].id", i), "duplicate agent id %q", a.ID)
		}
		known[a.ID] = true
	}
	for i := range c.Agents {
		if err := c.Agents[i].validate(i, known); err != nil {
			return err
		}
	}
	for i := range c.ScenarioEvents {
		if err := c.ScenarioEvents[i].validate(i, c); err != nil {
			return err
		}
	}
	return nil
}

func (l *LSMConfig) validate() error {
	if v := l.MaxCycleLength; v != nil {
		// Two-agent cycles are left to bilateral offsetting when it is on.
		if l.EnableBilateral && *v < 3 {
			return configErrorf("lsm.max_cycle_length", "must be >= 3 when bilateral offsetting is enabled, got %d", *v)
		}
		if *v < 2 {
			return configErrorf("lsm.max_cycle_length", "must be >= 2, got %d", *v)
		}
	}
	if v := l.MaxCyclesPerTick; v != nil && *v < 1 {
		return configErrorf("lsm.max_cycles_per_tick", "must be >= 1, got %d", *v)
	}
	if v := l.MaxIterations; v != nil && *v < 1 {
		return configErrorf("lsm.max_iterations", "must be >= 1, got %d", *v)
	}
	return nil
}

func (r *CostRatesConfig) validate() error {
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"overdraft_bps_per_tick", r.OverdraftBpsPerTick},
		{"delay_cost_per_tick_per_cent", r.DelayCostPerTickPerCent},
		{"collateral_cost_per_tick_bps", r.CollateralCostPerTickBps},
		{"deadline_penalty", float64(r.DeadlinePenalty)},
		{"eod_penalty_per_transaction", float64(r.EODPenaltyPerTransaction)},
		{"split_friction_cost", float64(r.SplitFrictionCost)},
	} {
		if err := validateRate(f.val); err != nil {
			return configErrorf("cost_rates."+f.name, "%s", err)
		}
	}
	if r.OverdueDelayMultiplier != nil {
		if err := validateRate(*r.OverdueDelayMultiplier); err != nil {
			return configErrorf("cost_rates.overdue_delay_multiplier", "%s", err)
		}
	}
	return nil
}

func validateRate(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("must be a finite number, got %f", v)
	}
	if v < 0 {
		return fmt.Errorf("must be non-negative, got %v", v)
	}
	return nil
}

func (a *AgentConfig) validate(idx int, known map[string]bool) error {
	prefix := fmt.Sprintf("agents[%d]", idx)
	if a.UnsecuredCap < 0 {
		return configErrorf(prefix+".unsecured_cap", "must be non-negative, got %d", a.UnsecuredCap)
	}
	if a.PostedCollateral < 0 {
		return configErrorf(prefix+".posted_collateral", "must be non-negative, got %d", a.PostedCollateral)
	}
	if h := a.CollateralHaircut; math.IsNaN(h) || h < 0 || h > 1 {
		return configErrorf(prefix+".collateral_haircut", "must be in [0, 1], got %v", h)
	}
	if a.MaxCollateralCapacity < a.PostedCollateral {
		return configErrorf(prefix+".max_collateral_capacity", "must be >= posted_collateral (%d), got %d",
			a.PostedCollateral, a.MaxCollateralCapacity)
	}
	agent := Agent{
		Balance:           a.OpeningBalance,
		PostedCollateral:  a.PostedCollateral,
		CollateralHaircut: haircutDecimal(a.CollateralHaircut),
		UnsecuredCap:      a.UnsecuredCap,
	}
	if agent.CreditUsed() > agent.AllowedOverdraft() {
		return configErrorf(prefix+".opening_balance", "overdraft %d exceeds allowed overdraft %d",
			agent.CreditUsed(), agent.AllowedOverdraft())
	}
	if a.ReleaseBudget != nil && *a.ReleaseBudget < 0 {
		return configErrorf(prefix+".release_budget_per_tick", "must be non-negative, got %d", *a.ReleaseBudget)
	}
	for _, cp := range sortedKeys(a.BilateralLimits) {
		field := fmt.Sprintf("%s.bilateral_limits.%s", prefix, cp)
		if !known[cp] || cp == a.ID {
			return configErrorf(field, "unknown counterparty %q", cp)
		}
		if a.BilateralLimits[cp] < 0 {
			return configErrorf(field, "must be non-negative, got %d", a.BilateralLimits[cp])
		}
	}
	if a.MultilateralLimit != nil && *a.MultilateralLimit < 0 {
		return configErrorf(prefix+".multilateral_limit", "must be non-negative, got %d", *a.MultilateralLimit)
	}
	if a.Policy != nil && a.PolicyFile != "" {
		return configErrorf(prefix+".policy", "policy and policy_file are mutually exclusive")
	}
	if a.Arrivals != nil {
		if err := a.Arrivals.Validate(a.ID, known); err != nil {
			return configErrorf(prefix+".arrival_config", "%s", err)
		}
	}
	return nil
}

func (e *ScenarioEventConfig) validate(idx int, c *Config) error {
	prefix := fmt.Sprintf("scenario_events[%d]", idx)
	fields, ok := scenarioFields[e.Type]
	if !ok {
		return configErrorf(prefix+".type", "unknown scenario event type %q; valid: %v", e.Type, sortedKeys(scenarioFields))
	}
	schedules := 0
	for _, set := range []bool{e.Tick != nil, e.Day != nil, e.DailyAt != nil} {
		if set {
			schedules++
		}
	}
	if schedules != 1 {
		return configErrorf(prefix, "exactly one of tick, day, daily_at is required, got %d", schedules)
	}
	switch {
	case e.Tick != nil && (*e.Tick < 0 || *e.Tick >= c.TotalTicks()):
		return configErrorf(prefix+".tick", "must be in [0, %d), got %d", c.TotalTicks(), *e.Tick)
	case e.Day != nil && (*e.Day < 0 || *e.Day >= c.NumDays):
		return configErrorf(prefix+".day", "must be in [0, %d), got %d", c.NumDays, *e.Day)
	case e.DailyAt != nil && (*e.DailyAt < 0 || *e.DailyAt >= c.TicksPerDay):
		return configErrorf(prefix+".daily_at", "must be in [0, %d), got %d", c.TicksPerDay, *e.DailyAt)
	}

	set := map[string]bool{
		"agent":           e.Agent != "",
		"from_agent":      e.FromAgent != "",
		"to_agent":        e.ToAgent != "",
		"amount":          e.Amount != 0,
		"delta":           e.Delta != 0,
		"priority":        e.Priority != nil,
		"deadline_offset": e.DeadlineOffset != nil,
		"divisible":       e.Divisible,
		"multiplier":      e.Multiplier != nil,
		"rates":           len(e.Rates) > 0,
	}
	for _, name := range sortedKeys(set) {
		required, used := fields[name]
		if set[name] && !used {
			return configErrorf(prefix+"."+name, "not used by %s events", e.Type)
		}
		if required && !set[name] {
			return configErrorf(prefix+"."+name, "required by %s events", e.Type)
		}
	}

	if e.Amount < 0 {
		return configErrorf(prefix+".amount", "must be positive, got %d", e.Amount)
	}
	if e.FromAgent != "" && e.FromAgent == e.ToAgent {
		return configErrorf(prefix+".to_agent", "must differ from from_agent")
	}
	if e.Priority != nil && (*e.Priority < 0 || *e.Priority > workload.MaxPriority) {
		return configErrorf(prefix+".priority", "must be in [0, %d], got %d", workload.MaxPriority, *e.Priority)
	}
	if e.DeadlineOffset != nil && *e.DeadlineOffset < 0 {
		return configErrorf(prefix+".deadline_offset", "must be non-negative, got %d", *e.DeadlineOffset)
	}
	if e.Multiplier != nil {
		if err := validateRate(*e.Multiplier); err != nil {
			return configErrorf(prefix+".multiplier", "%s", err)
		}
	}
	for _, name := range sortedKeys(e.Rates) {
		if _, ok := rateSetters[name]; !ok {
			return configErrorf(prefix+".rates."+name, "unknown cost rate")
		}
		if err := validateRate(e.Rates[name]); err != nil {
			return configErrorf(prefix+".rates."+name, "%s", err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
