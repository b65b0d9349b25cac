package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/policy"
	"github.com/rtgs-sim/rtgs-sim/sim/workload"
)

// TickResult summarizes one executed tick.
type TickResult struct {
	Tick     int64
	Day      int64
	EndOfDay bool
	Events   []eventlog.Event
	Counts   eventlog.TickCounts
}

// Simulator owns the state of one run and advances it tick by tick.
// It is not safe for concurrent use; run independent instances instead.
type Simulator struct {
	cfg    *Config
	digest string

	state      *SimulationState
	log        *eventlog.Log
	rng        *PartitionedRNG
	policies   []*policy.Policy
	fifo       *policy.Policy
	generators []*workload.Generator

	// readOnly is set on simulators rebuilt by Replay.
	readOnly bool
	// failed holds the error that stopped a tick part way; the state is
	// not advanced further.
	failed error

	// Per-tick scratch, empty between ticks.
	released       []string
	cyclesThisTick int
	counts         eventlog.TickCounts
}

// NewSimulator validates cfg and every agent's policy and builds the
// initial state. Nothing runs until Advance.
func NewSimulator(cfg *Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	digest, err := cfg.Digest()
	if err != nil {
		return nil, err
	}
	c := cfg.withDefaults()
	sim := &Simulator{
		cfg:        c,
		digest:     digest,
		state:      newState(c),
		log:        eventlog.New(),
		rng:        NewPartitionedRNG(NewSimulationKey(c.Seed)),
		policies:   make([]*policy.Policy, len(c.Agents)),
		fifo:       policy.FIFO(),
		generators: make([]*workload.Generator, len(c.Agents)),
	}
	for i := range c.Agents {
		ac := &c.Agents[i]
		p, err := compileAgentPolicy(ac)
		if err != nil {
			return nil, err
		}
		sim.policies[i] = p
		if ac.Arrivals != nil {
			g, err := workload.NewGenerator(*ac.Arrivals)
			if err != nil {
				return nil, configErrorf(fmt.Sprintf("agents[%d].arrival_config", i), "%s", err)
			}
			sim.generators[i] = g
		}
	}
	logrus.Debugf("simulator: %d agents, %d ticks, seed %d", len(c.Agents), c.TotalTicks(), c.Seed)
	return sim, nil
}

// compileAgentPolicy returns the agent's compiled policy, FIFO when none
// is configured.
func compileAgentPolicy(ac *AgentConfig) (*policy.Policy, error) {
	doc := ac.Policy
	if ac.PolicyFile != "" {
		var err error
		if doc, err = policy.Load(ac.PolicyFile); err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.ID, err)
		}
	}
	if doc == nil {
		return policy.FIFO(), nil
	}
	p, err := policy.Compile(doc)
	if err != nil {
		if verrs, ok := policy.AsValidationErrors(err); ok {
			return nil, &PolicyValidationError{AgentID: ac.ID, Errors: verrs}
		}
		return nil, fmt.Errorf("agent %s policy: %w", ac.ID, err)
	}
	return p, nil
}

// newState builds the tick-0 state from a defaulted config.
func newState(c *Config) *SimulationState {
	st := &SimulationState{
		Agents:       make([]*Agent, len(c.Agents)),
		Transactions: []*Transaction{},
		Queue2:       []string{},
		Rates:        newCostRates(c.CostRates),
	}
	for i, ac := range c.Agents {
		a := &Agent{
			ID:                    ac.ID,
			Balance:               ac.OpeningBalance,
			OpeningBalance:        ac.OpeningBalance,
			Queue1:                []string{},
			PostedCollateral:      ac.PostedCollateral,
			CollateralHaircut:     haircutDecimal(ac.CollateralHaircut),
			MaxCollateralCapacity: ac.MaxCollateralCapacity,
			UnsecuredCap:          ac.UnsecuredCap,
			ReleaseBudget:         NoLimit,
			MultilateralLimit:     NoLimit,
			ArrivalMultiplier:     1,
		}
		if ac.ReleaseBudget != nil {
			a.ReleaseBudget = *ac.ReleaseBudget
		}
		a.BudgetRemaining = a.ReleaseBudget
		if ac.MultilateralLimit != nil {
			a.MultilateralLimit = *ac.MultilateralLimit
		}
		if len(ac.BilateralLimits) > 0 {
			a.BilateralLimits = make(map[string]int64, len(ac.BilateralLimits))
			for k, v := range ac.BilateralLimits {
				a.BilateralLimits[k] = v
			}
		}
		st.Agents[i] = a
	}
	st.rebuildIndexes()
	st.InitialMoney = st.TotalMoney()
	return st
}

// emit stamps the current tick on ev, applies it and appends it to the
// log. A rejected event is not logged.
func (sim *Simulator) emit(ev eventlog.Event) error {
	ev.Tick = sim.state.Tick
	if err := sim.state.apply(ev); err != nil {
		return err
	}
	ev = sim.log.Append(ev)
	sim.count(ev)
	return nil
}

// count folds an event into this tick's counters.
func (sim *Simulator) count(ev eventlog.Event) {
	c := &sim.counts
	switch ev.Kind {
	case eventlog.KindArrival:
		c.Arrivals++
	case eventlog.KindTransactionOverdue, eventlog.KindPolicySplit:
		c.CostAccrued += ev.Amount
	case eventlog.KindCostAccrual:
		c.CostAccrued += ev.Costs.Total()
	case eventlog.KindEndOfDay:
		for _, p := range ev.Penalties {
			c.CostAccrued += p.Amount
		}
	}
	if ev.IsSettlement() {
		c.Settlements += len(ev.Legs)
		if ev.Kind == eventlog.KindBilateralOffset || ev.Kind == eventlog.KindCycleSettled {
			c.Netted += len(ev.Legs)
		}
	}
}

// Advance executes exactly one tick.
func (sim *Simulator) Advance() (TickResult, error) {
	if sim.readOnly {
		return TickResult{}, ErrReplayReadOnly
	}
	if sim.failed != nil {
		return TickResult{}, sim.failed
	}
	if sim.Done() {
		return TickResult{}, ErrSimulationComplete
	}
	tick := sim.state.Tick
	start := int64(sim.log.Len())
	sim.released = sim.released[:0]
	sim.cyclesThisTick = 0
	sim.counts = eventlog.TickCounts{}

	if err := sim.step(); err != nil {
		sim.failed = fmt.Errorf("tick %d: %w", tick, err)
		return TickResult{}, sim.failed
	}

	events := sim.log.Since(start)
	res := TickResult{
		Tick:     tick,
		Day:      tick / sim.cfg.TicksPerDay,
		EndOfDay: sim.isEndOfDay(tick),
		Events:   events,
		Counts:   *events[len(events)-1].Counts,
	}
	logrus.Debugf("[tick %07d] %d arrivals, %d settlements (%d netted), queue 2 depth %d",
		tick, res.Counts.Arrivals, res.Counts.Settlements, res.Counts.Netted, res.Counts.Queue2Depth)
	return res, nil
}

func (sim *Simulator) isEndOfDay(tick int64) bool {
	return (tick+1)%sim.cfg.TicksPerDay == 0
}

// step runs the phases of one tick in order.
func (sim *Simulator) step() error {
	if err := sim.runScenarioEvents(); err != nil {
		return err
	}
	if err := sim.escalatePriorities(); err != nil {
		return err
	}
	if err := sim.generateArrivals(); err != nil {
		return err
	}
	for i := range sim.state.Agents {
		if err := sim.runBankTree(i); err != nil {
			return err
		}
		if err := sim.runCollateralTree(i, policy.TreeStrategicCollateral); err != nil {
			return err
		}
		if err := sim.runPaymentTree(i); err != nil {
			return err
		}
	}
	for _, id := range sim.released {
		if err := sim.submit(sim.state.tx(id)); err != nil {
			return err
		}
	}
	if err := sim.processQueue2(); err != nil {
		return err
	}
	for i := range sim.state.Agents {
		if err := sim.runCollateralTree(i, policy.TreeEndOfTickCollateral); err != nil {
			return err
		}
	}
	if err := sim.accrueCosts(); err != nil {
		return err
	}
	if sim.isEndOfDay(sim.state.Tick) {
		if err := sim.endOfDay(); err != nil {
			return err
		}
	}
	counts := sim.counts
	counts.Queue2Depth = len(sim.state.Queue2)
	return sim.emit(eventlog.Event{Kind: eventlog.KindTickCompleted, Counts: &counts})
}

// Run advances until the final tick, calling observe (if non-nil) after
// each one.
func (sim *Simulator) Run(observe func(TickResult) error) error {
	for !sim.Done() {
		res, err := sim.Advance()
		if err != nil {
			return err
		}
		if observe != nil {
			if err := observe(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// Done reports whether every tick has run.
func (sim *Simulator) Done() bool {
	return sim.state.Tick >= sim.cfg.TotalTicks()
}
