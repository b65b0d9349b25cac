package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/policy"
)

// CostBreakdown splits accrued cost by component.
type CostBreakdown = eventlog.CostBreakdown

// CostRates are the rates in force. Fractional rates are decimals; the
// one-off penalties are whole minor units.
type CostRates struct {
	OverdraftBpsPerTick      decimal.Decimal `json:"overdraft_bps_per_tick"`
	DelayPerTickPerCent      decimal.Decimal `json:"delay_cost_per_tick_per_cent"`
	CollateralBpsPerTick     decimal.Decimal `json:"collateral_cost_per_tick_bps"`
	OverdueDelayMultiplier   decimal.Decimal `json:"overdue_delay_multiplier"`
	DeadlinePenalty          int64           `json:"deadline_penalty"`
	EODPenaltyPerTransaction int64           `json:"eod_penalty_per_transaction"`
	SplitFrictionCost        int64           `json:"split_friction_cost"`
}

// rateSetters maps each rate name accepted by cost_rate_change events to
// its setter.
var rateSetters = map[string]func(*CostRates, decimal.Decimal) error{
	policy.FieldOverdraftRate:  func(r *CostRates, v decimal.Decimal) error { r.OverdraftBpsPerTick = v; return nil },
	policy.FieldDelayRate:      func(r *CostRates, v decimal.Decimal) error { r.DelayPerTickPerCent = v; return nil },
	policy.FieldCollateralRate: func(r *CostRates, v decimal.Decimal) error { r.CollateralBpsPerTick = v; return nil },
	policy.FieldOverdueMultiplier: func(r *CostRates, v decimal.Decimal) error {
		r.OverdueDelayMultiplier = v
		return nil
	},
	policy.FieldDeadlinePenalty: func(r *CostRates, v decimal.Decimal) error { return setMinorUnits(&r.DeadlinePenalty, v) },
	policy.FieldEODPenalty:      func(r *CostRates, v decimal.Decimal) error { return setMinorUnits(&r.EODPenaltyPerTransaction, v) },
	policy.FieldSplitFriction:   func(r *CostRates, v decimal.Decimal) error { return setMinorUnits(&r.SplitFrictionCost, v) },
}

func setMinorUnits(dst *int64, v decimal.Decimal) error {
	if !v.IsInteger() {
		return fmt.Errorf("penalty %s is not a whole number of minor units", v)
	}
	*dst = v.IntPart()
	return nil
}

func newCostRates(c CostRatesConfig) CostRates {
	r := CostRates{
		OverdraftBpsPerTick:      decimal.NewFromFloat(c.OverdraftBpsPerTick),
		DelayPerTickPerCent:      decimal.NewFromFloat(c.DelayCostPerTickPerCent),
		CollateralBpsPerTick:     decimal.NewFromFloat(c.CollateralCostPerTickBps),
		OverdueDelayMultiplier:   decimal.NewFromFloat(defaultOverdueMultiplier),
		DeadlinePenalty:          c.DeadlinePenalty,
		EODPenaltyPerTransaction: c.EODPenaltyPerTransaction,
		SplitFrictionCost:        c.SplitFrictionCost,
	}
	if c.OverdueDelayMultiplier != nil {
		r.OverdueDelayMultiplier = decimal.NewFromFloat(*c.OverdueDelayMultiplier)
	}
	return r
}

// with returns a copy with the named rate replaced.
func (r CostRates) with(name string, v decimal.Decimal) (CostRates, error) {
	set, ok := rateSetters[name]
	if !ok {
		return r, fmt.Errorf("unknown cost rate %q", name)
	}
	if v.IsNegative() {
		return r, fmt.Errorf("cost rate %s must be non-negative, got %s", name, v)
	}
	if err := set(&r, v); err != nil {
		return r, err
	}
	return r, nil
}

// asFields exposes the rates to policy contexts.
func (r CostRates) asFields() map[string]float64 {
	return map[string]float64{
		policy.FieldOverdraftRate:     r.OverdraftBpsPerTick.InexactFloat64(),
		policy.FieldDelayRate:         r.DelayPerTickPerCent.InexactFloat64(),
		policy.FieldCollateralRate:    r.CollateralBpsPerTick.InexactFloat64(),
		policy.FieldOverdueMultiplier: r.OverdueDelayMultiplier.InexactFloat64(),
		policy.FieldDeadlinePenalty:   float64(r.DeadlinePenalty),
		policy.FieldEODPenalty:        float64(r.EODPenaltyPerTransaction),
		policy.FieldSplitFriction:     float64(r.SplitFrictionCost),
	}
}

// delayCost is one tick of delay cost for an unsettled transaction.
func (r CostRates) delayCost(tx *Transaction) int64 {
	rate := r.DelayPerTickPerCent
	if tx.IsOverdue() {
		rate = rate.Mul(r.OverdueDelayMultiplier)
	}
	return floorMul(tx.RemainingAmount, rate)
}

// tickCosts computes one tick of running costs for an agent: overdraft on
// credit used, delay on every unsettled outgoing payment and the
// opportunity cost of posted collateral.
func (s *SimulationState) tickCosts(a *Agent) CostBreakdown {
	c := CostBreakdown{
		Overdraft:  floorBps(a.CreditUsed(), s.Rates.OverdraftBpsPerTick),
		Collateral: floorBps(a.PostedCollateral, s.Rates.CollateralBpsPerTick),
	}
	for _, tx := range s.outgoing(a) {
		c.Delay += s.Rates.delayCost(tx)
	}
	return c
}

// becameOverdue lists the agent's unsettled payments whose deadline has
// passed but that are not yet marked overdue.
func (s *SimulationState) becameOverdue(a *Agent, tick int64) []*Transaction {
	var out []*Transaction
	for _, tx := range s.outgoing(a) {
		if !tx.IsOverdue() && tick >= tx.DeadlineTick {
			out = append(out, tx)
		}
	}
	return out
}

// accrueCosts marks newly overdue payments then charges running costs,
// agents in configuration order.
func (sim *Simulator) accrueCosts() error {
	tick := sim.state.Tick
	for _, a := range sim.state.Agents {
		for _, tx := range sim.state.becameOverdue(a, tick) {
			if err := sim.emit(eventlog.Event{
				Kind:           eventlog.KindTransactionOverdue,
				AgentID:        a.ID,
				CounterpartyID: tx.ReceiverID,
				TxID:           tx.ID,
				Amount:         sim.state.Rates.DeadlinePenalty,
				DeadlineTick:   tx.DeadlineTick,
			}); err != nil {
				return err
			}
		}
	}
	for _, a := range sim.state.Agents {
		c := sim.state.tickCosts(a)
		if c.Total() == 0 {
			continue
		}
		if err := sim.emit(eventlog.Event{Kind: eventlog.KindCostAccrual, AgentID: a.ID, Costs: &c}); err != nil {
			return err
		}
	}
	return nil
}

// endOfDay charges the EOD penalty for every unsettled outgoing payment,
// optionally writes them off, and resets the daily counters.
func (sim *Simulator) endOfDay() error {
	ev := eventlog.Event{Kind: eventlog.KindEndOfDay, Value: float64(sim.state.Tick / sim.cfg.TicksPerDay)}
	for _, a := range sim.state.Agents {
		unsettled := sim.state.outgoing(a)
		if len(unsettled) == 0 {
			continue
		}
		ev.Penalties = append(ev.Penalties, eventlog.AgentPenalty{
			AgentID: a.ID,
			Count:   len(unsettled),
			Amount:  int64(len(unsettled)) * sim.state.Rates.EODPenaltyPerTransaction,
		})
		if sim.cfg.WriteOffAtEOD {
			for _, tx := range unsettled {
				ev.WrittenOff = append(ev.WrittenOff, tx.ID)
			}
		}
	}
	return sim.emit(ev)
}
