package sim

import (
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/policy"
	"github.com/rtgs-sim/rtgs-sim/sim/workload"
)

// toMinorUnits floors a policy amount, clamping to [0, MaxInt64].
func toMinorUnits(v float64) int64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(math.Floor(v))
}

func clampPriority(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(workload.MaxPriority, math.Round(v))))
}

// evaluate runs one tree; errors are logged and reported as !ok.
func (sim *Simulator) evaluate(idx int, kind policy.TreeKind, ctx *policy.Context) (policy.Decision, bool) {
	d, err := sim.policies[idx].Evaluate(kind, ctx)
	if err != nil {
		logrus.Warnf("[tick %07d] agent %s %s: %v", sim.state.Tick, sim.state.Agents[idx].ID, kind, err)
		return policy.Decision{}, false
	}
	return d, true
}

// runBankTree applies the bank-level decision: release budget or
// register updates.
func (sim *Simulator) runBankTree(idx int) error {
	if !sim.policies[idx].HasTree(policy.TreeBank) {
		return nil
	}
	a := sim.state.Agents[idx]
	d, ok := sim.evaluate(idx, policy.TreeBank, policy.NewContext(sim.agentFields(a)))
	if !ok {
		return nil
	}
	switch d.Action {
	case policy.ActionSetReleaseBudget:
		return sim.emit(eventlog.Event{
			Kind:    eventlog.KindReleaseBudgetSet,
			AgentID: a.ID,
			NodeID:  d.NodeID,
			Amount:  toMinorUnits(d.Param(policy.ParamMaxValue)),
		})
	case policy.ActionSetState, policy.ActionAddState:
		v := d.Param(policy.ParamValue)
		if d.Action == policy.ActionAddState {
			v += a.Registers[d.Register]
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			logrus.Warnf("[tick %07d] agent %s register %s: non-finite value", sim.state.Tick, a.ID, d.Register)
			return nil
		}
		return sim.emit(eventlog.Event{
			Kind:     eventlog.KindRegisterSet,
			AgentID:  a.ID,
			NodeID:   d.NodeID,
			Register: d.Register,
			Value:    v,
		})
	}
	return nil
}

// runCollateralTree posts or withdraws collateral. Amounts are capped to
// remaining capacity and to what can be withdrawn without breaching the
// credit limit.
func (sim *Simulator) runCollateralTree(idx int, kind policy.TreeKind) error {
	if !sim.policies[idx].HasTree(kind) {
		return nil
	}
	a := sim.state.Agents[idx]
	d, ok := sim.evaluate(idx, kind, policy.NewContext(sim.agentFields(a)))
	if !ok {
		return nil
	}
	ev := eventlog.Event{AgentID: a.ID, NodeID: d.NodeID, Reason: string(kind)}
	requested := toMinorUnits(d.Param(policy.ParamAmount))
	switch d.Action {
	case policy.ActionPostCollateral:
		ev.Kind = eventlog.KindCollateralPosted
		ev.Amount = min(requested, a.RemainingCollateralCapacity())
	case policy.ActionWithdrawCollateral:
		ev.Kind = eventlog.KindCollateralWithdrawn
		ev.Amount = min(requested, a.MaxWithdrawable())
	default:
		return nil
	}
	if ev.Amount <= 0 {
		return nil
	}
	return sim.emit(ev)
}

// runPaymentTree decides every Queue 1 entry, in queue order. Agents
// without a payment tree release in FIFO order.
func (sim *Simulator) runPaymentTree(idx int) error {
	a := sim.state.Agents[idx]
	pol := sim.policies[idx]
	if !pol.HasTree(policy.TreePayment) {
		pol = sim.fifo
	}
	for _, id := range slices.Clone(a.Queue1) {
		pos := slices.Index(a.Queue1, id)
		if pos < 0 {
			continue
		}
		tx := sim.state.tx(id)
		ctx := sim.paymentContext(a, sim.agentFields(a), tx, pos)
		d, err := pol.Evaluate(policy.TreePayment, ctx)
		if err != nil {
			logrus.Warnf("[tick %07d] agent %s payment %s: %v", sim.state.Tick, a.ID, tx.ID, err)
			if err := sim.hold(tx, "", ReasonEvaluationError); err != nil {
				return err
			}
			continue
		}
		if d.Action == policy.ActionSplit {
			err = sim.split(tx, d)
		} else {
			err = sim.decidePayment(tx, d)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (sim *Simulator) hold(tx *Transaction, nodeID, reason string) error {
	return sim.emit(eventlog.Event{
		Kind:           eventlog.KindPolicyHold,
		AgentID:        tx.SenderID,
		CounterpartyID: tx.ReceiverID,
		TxID:           tx.ID,
		NodeID:         nodeID,
		Reason:         reason,
	})
}

// decidePayment applies a payment-tree action. A release larger than the
// remaining release budget is held instead.
func (sim *Simulator) decidePayment(tx *Transaction, d policy.Decision) error {
	ev := eventlog.Event{
		AgentID:        tx.SenderID,
		CounterpartyID: tx.ReceiverID,
		TxID:           tx.ID,
		NodeID:         d.NodeID,
	}
	switch d.Action {
	case policy.ActionRelease:
		a := sim.state.agent(tx.SenderID)
		if a.BudgetRemaining != NoLimit && tx.RemainingAmount > a.BudgetRemaining {
			return sim.hold(tx, d.NodeID, ReasonReleaseBudget)
		}
		ev.Kind = eventlog.KindPolicyRelease
		ev.Amount = tx.RemainingAmount
		if err := sim.emit(ev); err != nil {
			return err
		}
		sim.released = append(sim.released, tx.ID)
		return nil
	case policy.ActionDrop:
		ev.Kind = eventlog.KindPolicyDrop
		ev.Reason = DropReasonPolicy
	case policy.ActionReprioritize:
		ev.Kind = eventlog.KindPolicyReprioritize
		ev.Priority = clampPriority(d.Param(policy.ParamPriority))
	default:
		return sim.hold(tx, d.NodeID, "")
	}
	return sim.emit(ev)
}

// split fans a payment out into children, then applies each child's own
// decision.
func (sim *Simulator) split(tx *Transaction, d policy.Decision) error {
	n := len(d.Children)
	amounts := policy.SplitAmounts(tx.RemainingAmount, n)
	ev := eventlog.Event{
		Kind:           eventlog.KindPolicySplit,
		AgentID:        tx.SenderID,
		CounterpartyID: tx.ReceiverID,
		TxID:           tx.ID,
		NodeID:         d.NodeID,
		Amount:         int64(n-1) * sim.state.Rates.SplitFrictionCost,
		Children:       make([]eventlog.Child, n),
	}
	for i, amount := range amounts {
		ev.Children[i] = eventlog.Child{TxID: childTxID(tx.ID, i), Amount: amount}
	}
	if err := sim.emit(ev); err != nil {
		return err
	}
	for i, c := range ev.Children {
		if err := sim.decidePayment(sim.state.tx(c.TxID), d.Children[i]); err != nil {
			return err
		}
	}
	return nil
}
