package sim

import (
	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/workload"
)

// generateArrivals draws this tick's payments for every agent with an
// arrival configuration, agents in configuration order, all from the
// arrivals stream.
func (sim *Simulator) generateArrivals() error {
	rng := sim.rng.ForSubsystem(SubsystemArrivals)
	last := sim.cfg.TotalTicks() - 1
	for i, a := range sim.state.Agents {
		g := sim.generators[i]
		if g == nil {
			continue
		}
		for _, arr := range g.Generate(rng, sim.state.Tick, last, a.ArrivalMultiplier) {
			if err := sim.emitArrival(a.ID, arr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sim *Simulator) emitArrival(sender string, arr workload.Arrival) error {
	return sim.emit(eventlog.Event{
		Kind:           eventlog.KindArrival,
		AgentID:        sender,
		CounterpartyID: arr.Receiver,
		TxID:           sim.state.peekTxID(),
		Amount:         arr.Amount,
		Priority:       arr.Priority,
		DeadlineTick:   arr.Deadline,
		Divisible:      arr.Divisible,
	})
}

// escalatePriorities raises the priority of unsettled payments as their
// deadline approaches: within StartTicksBeforeDeadline ticks the boost
// grows linearly to MaxBoost, applied on top of the original priority.
// Priorities are never lowered.
func (sim *Simulator) escalatePriorities() error {
	esc := sim.cfg.PriorityEscalation
	if esc == nil || esc.MaxBoost == 0 {
		return nil
	}
	tick := sim.state.Tick
	for _, a := range sim.state.Agents {
		for _, tx := range sim.state.outgoing(a) {
			ttd := tx.DeadlineTick - tick
			if ttd > esc.StartTicksBeforeDeadline {
				continue
			}
			boost := int64(esc.MaxBoost)
			if ttd > 0 {
				boost = int64(esc.MaxBoost) * (esc.StartTicksBeforeDeadline - ttd) / esc.StartTicksBeforeDeadline
			}
			next := min(workload.MaxPriority, tx.OriginalPriority+int(boost))
			if next <= tx.Priority {
				continue
			}
			if err := sim.emit(eventlog.Event{
				Kind:           eventlog.KindPriorityEscalated,
				AgentID:        a.ID,
				CounterpartyID: tx.ReceiverID,
				TxID:           tx.ID,
				Priority:       next,
				DeadlineTick:   tx.DeadlineTick,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
