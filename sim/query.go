package sim

import (
	"fmt"
	"slices"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

// The query surface returns copies; callers cannot mutate the state.

// CurrentTick is the next tick to run.
func (sim *Simulator) CurrentTick() int64 {
	return sim.state.Tick
}

// Day is the day the current tick falls in.
func (sim *Simulator) Day() int64 {
	return sim.state.Tick / sim.cfg.TicksPerDay
}

// Config returns the defaulted configuration the simulator runs.
func (sim *Simulator) Config() Config {
	return *sim.cfg
}

// AgentIDs lists agents in configuration order.
func (sim *Simulator) AgentIDs() []string {
	ids := make([]string, len(sim.state.Agents))
	for i, a := range sim.state.Agents {
		ids[i] = a.ID
	}
	return ids
}

// Agent returns a copy of the named agent.
func (sim *Simulator) Agent(id string) (Agent, error) {
	a := sim.state.agent(id)
	if a == nil {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return *a.clone(), nil
}

// Balance returns an agent's settlement account balance.
func (sim *Simulator) Balance(id string) (int64, error) {
	a := sim.state.agent(id)
	if a == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a.Balance, nil
}

// Costs returns an agent's accumulated costs.
func (sim *Simulator) Costs(id string) (CostBreakdown, error) {
	a := sim.state.agent(id)
	if a == nil {
		return CostBreakdown{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a.Costs, nil
}

// Queue1 returns the ids waiting in an agent's internal queue, in order.
func (sim *Simulator) Queue1(id string) ([]string, error) {
	a := sim.state.agent(id)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return slices.Clone(a.Queue1), nil
}

// Queue2 returns the ids waiting in the central queue, in entry order.
func (sim *Simulator) Queue2() []string {
	return slices.Clone(sim.state.Queue2)
}

// Transaction returns a copy of a transaction.
func (sim *Simulator) Transaction(id string) (Transaction, error) {
	tx := sim.state.tx(id)
	if tx == nil {
		return Transaction{}, fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
	}
	return *tx, nil
}

// Transactions returns copies of every transaction in creation order.
func (sim *Simulator) Transactions() []Transaction {
	out := make([]Transaction, len(sim.state.Transactions))
	for i, tx := range sim.state.Transactions {
		out[i] = *tx
	}
	return out
}

// Events returns the logged events matching f.
func (sim *Simulator) Events(f eventlog.Filter) []eventlog.Event {
	return sim.log.Filter(f)
}

// AllEvents returns the whole log.
func (sim *Simulator) AllEvents() []eventlog.Event {
	return sim.log.All()
}

// TotalMoney is Σ balances + Σ posted collateral.
func (sim *Simulator) TotalMoney() int64 {
	return sim.state.TotalMoney()
}

// InitialMoney is TotalMoney at tick 0.
func (sim *Simulator) InitialMoney() int64 {
	return sim.state.InitialMoney
}

// ExternalInjections is the signed sum of collateral changes and scripted
// balance adjustments so far.
func (sim *Simulator) ExternalInjections() int64 {
	return sim.state.ExternalInjections
}

// CheckInvariants verifies conservation of money and every agent's
// credit limit.
func (sim *Simulator) CheckInvariants() error {
	st := sim.state
	if got, want := st.TotalMoney(), st.InitialMoney+st.ExternalInjections; got != want {
		return &SettlementInvariantError{
			Tick:    st.Tick,
			Message: fmt.Sprintf("total money %d, expected %d", got, want),
		}
	}
	for _, a := range st.Agents {
		if a.CreditUsed() > a.AllowedOverdraft() {
			return &SettlementInvariantError{
				Tick:    st.Tick,
				AgentID: a.ID,
				Message: fmt.Sprintf("credit used %d exceeds allowed overdraft %d", a.CreditUsed(), a.AllowedOverdraft()),
			}
		}
	}
	return nil
}
