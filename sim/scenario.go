package sim

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/workload"
)

// fires reports whether a scheduled event runs at tick.
func (e *ScenarioEventConfig) fires(tick, ticksPerDay int64) bool {
	switch {
	case e.Tick != nil:
		return *e.Tick == tick
	case e.Day != nil:
		return *e.Day*ticksPerDay == tick
	case e.DailyAt != nil:
		return tick%ticksPerDay == *e.DailyAt
	}
	return false
}

// runScenarioEvents applies the events scheduled for this tick in
// configuration order. An event that cannot be applied is logged,
// recorded as ScenarioSkipped, and the run continues.
func (sim *Simulator) runScenarioEvents() error {
	tick := sim.state.Tick
	for i := range sim.cfg.ScenarioEvents {
		cfg := &sim.cfg.ScenarioEvents[i]
		if !cfg.fires(tick, sim.cfg.TicksPerDay) {
			continue
		}
		ev, err := sim.scenarioEvent(i, cfg)
		var skipped *ScenarioEventError
		switch {
		case errors.As(err, &skipped):
			logrus.Warnf("[tick %07d] %v", tick, skipped)
			err = sim.emit(eventlog.Event{
				Kind:   eventlog.KindScenarioSkipped,
				Reason: skipped.Error(),
				Value:  float64(i),
			})
		case err == nil:
			err = sim.emit(ev)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// scenarioEvent turns a scheduled event into the state change it makes,
// checking it against the current state first.
func (sim *Simulator) scenarioEvent(idx int, cfg *ScenarioEventConfig) (eventlog.Event, error) {
	st := sim.state
	fail := func(ref, format string, args ...any) (eventlog.Event, error) {
		return eventlog.Event{}, &ScenarioEventError{
			Index:   idx,
			Tick:    st.Tick,
			Type:    cfg.Type,
			Ref:     ref,
			Message: fmt.Sprintf(format, args...),
		}
	}
	lookup := func(id string) *Agent {
		if id == "" {
			return nil
		}
		return st.agent(id)
	}

	switch cfg.Type {
	case ScenarioDirectTransfer:
		from, to := lookup(cfg.FromAgent), lookup(cfg.ToAgent)
		if from == nil {
			return fail(cfg.FromAgent, "%s", ErrUnknownAgent)
		}
		if to == nil {
			return fail(cfg.ToAgent, "%s", ErrUnknownAgent)
		}
		if !from.withinCredit(from.Balance-cfg.Amount, from.PostedCollateral) {
			return fail(from.ID, "transfer of %d exceeds available liquidity %d", cfg.Amount, from.AvailableLiquidity())
		}
		return eventlog.Event{
			Kind:           eventlog.KindDirectTransfer,
			AgentID:        from.ID,
			CounterpartyID: to.ID,
			Amount:         cfg.Amount,
			Reason:         ReasonScenario,
			Legs:           []eventlog.Leg{{SenderID: from.ID, ReceiverID: to.ID, Amount: cfg.Amount}},
		}, nil

	case ScenarioBalanceAdjustment:
		a := lookup(cfg.Agent)
		if a == nil {
			return fail(cfg.Agent, "%s", ErrUnknownAgent)
		}
		if !a.withinCredit(a.Balance+cfg.Delta, a.PostedCollateral) {
			return fail(a.ID, "adjustment of %d exceeds allowed overdraft %d", cfg.Delta, a.AllowedOverdraft())
		}
		return eventlog.Event{Kind: eventlog.KindBalanceAdjusted, AgentID: a.ID, Amount: cfg.Delta, Reason: ReasonScenario}, nil

	case ScenarioCollateralAdjustment:
		a := lookup(cfg.Agent)
		if a == nil {
			return fail(cfg.Agent, "%s", ErrUnknownAgent)
		}
		ev := eventlog.Event{AgentID: a.ID, Reason: ReasonScenario}
		if cfg.Delta > 0 {
			ev.Kind = eventlog.KindCollateralPosted
			ev.Amount = min(cfg.Delta, a.RemainingCollateralCapacity())
		} else {
			ev.Kind = eventlog.KindCollateralWithdrawn
			ev.Amount = min(-cfg.Delta, a.MaxWithdrawable())
		}
		if ev.Amount <= 0 {
			return fail(a.ID, "collateral cannot change by %d", cfg.Delta)
		}
		return ev, nil

	case ScenarioCostRateChange:
		rates := st.Rates
		out := make(map[string]string, len(cfg.Rates))
		for _, name := range sortedKeys(cfg.Rates) {
			v := decimal.NewFromFloat(cfg.Rates[name])
			var err error
			if rates, err = rates.with(name, v); err != nil {
				return fail(name, "%s", err)
			}
			out[name] = v.String()
		}
		return eventlog.Event{Kind: eventlog.KindCostRatesChanged, Rates: out, Reason: ReasonScenario}, nil

	case ScenarioArrivalRateChange:
		if cfg.Agent != "" && lookup(cfg.Agent) == nil {
			return fail(cfg.Agent, "%s", ErrUnknownAgent)
		}
		return eventlog.Event{Kind: eventlog.KindArrivalRateChanged, AgentID: cfg.Agent, Value: *cfg.Multiplier, Reason: ReasonScenario}, nil

	case ScenarioCustomArrival:
		from, to := lookup(cfg.FromAgent), lookup(cfg.ToAgent)
		if from == nil {
			return fail(cfg.FromAgent, "%s", ErrUnknownAgent)
		}
		if to == nil {
			return fail(cfg.ToAgent, "%s", ErrUnknownAgent)
		}
		priority := defaultScriptedPriority
		if cfg.Priority != nil {
			priority = *cfg.Priority
		}
		tpd := sim.cfg.TicksPerDay
		deadline := (st.Tick/tpd+1)*tpd - 1
		if cfg.DeadlineOffset != nil {
			deadline = st.Tick + *cfg.DeadlineOffset
		}
		deadline = min(deadline, sim.cfg.TotalTicks()-1)
		return eventlog.Event{
			Kind:           eventlog.KindArrival,
			AgentID:        from.ID,
			CounterpartyID: to.ID,
			TxID:           st.peekTxID(),
			Amount:         cfg.Amount,
			Priority:       min(priority, workload.MaxPriority),
			DeadlineTick:   deadline,
			Divisible:      cfg.Divisible,
		}, nil
	}
	return fail("", "unknown scenario event type %q", cfg.Type)
}
