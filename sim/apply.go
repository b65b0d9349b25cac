package sim

import (
	"fmt"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/policy"
	"github.com/rtgs-sim/rtgs-sim/sim/workload"
)

// apply is the single path by which state changes. Each event is checked
// in full first, then applied; a rejected event leaves the state
// untouched. Replaying a log through apply rebuilds the state exactly.
func (s *SimulationState) apply(ev eventlog.Event) error {
	switch ev.Kind {
	case eventlog.KindArrival:
		return s.applyArrival(ev)
	case eventlog.KindPolicyRelease:
		return s.applyRelease(ev)
	case eventlog.KindPolicyHold, eventlog.KindScenarioSkipped:
		return nil
	case eventlog.KindPolicyDrop:
		return s.applyDrop(ev)
	case eventlog.KindPolicySplit:
		return s.applySplit(ev)
	case eventlog.KindPolicyReprioritize, eventlog.KindPriorityEscalated:
		return s.applyPriority(ev)
	case eventlog.KindReleaseBudgetSet:
		return s.applyBudget(ev)
	case eventlog.KindRegisterSet:
		return s.applyRegister(ev)
	case eventlog.KindCollateralPosted:
		return s.applyCollateral(ev, 1)
	case eventlog.KindCollateralWithdrawn:
		return s.applyCollateral(ev, -1)
	case eventlog.KindRtgsSettled, eventlog.KindQueueSettled,
		eventlog.KindBilateralOffset, eventlog.KindCycleSettled, eventlog.KindDirectTransfer:
		return s.applyLegs(ev)
	case eventlog.KindRtgsQueued:
		return s.applyQueued(ev)
	case eventlog.KindLimitBreach:
		a, err := s.mustAgent(ev, ev.AgentID)
		if err != nil {
			return err
		}
		a.LimitBreaches++
		return nil
	case eventlog.KindTransactionOverdue:
		return s.applyOverdue(ev)
	case eventlog.KindCostAccrual:
		a, err := s.mustAgent(ev, ev.AgentID)
		if err != nil {
			return err
		}
		if ev.Costs == nil {
			return invariantf(ev, a.ID, nil, "cost accrual without costs")
		}
		a.Costs.Add(*ev.Costs)
		return nil
	case eventlog.KindEndOfDay:
		return s.applyEndOfDay(ev)
	case eventlog.KindBalanceAdjusted:
		return s.applyBalance(ev)
	case eventlog.KindCostRatesChanged:
		return s.applyRates(ev)
	case eventlog.KindArrivalRateChanged:
		return s.applyArrivalRate(ev)
	case eventlog.KindTickCompleted:
		if ev.Tick != s.Tick {
			return invariantf(ev, "", nil, "tick completed for %d while at %d", ev.Tick, s.Tick)
		}
		s.Tick++
		for _, a := range s.Agents {
			a.BudgetRemaining = a.ReleaseBudget
		}
		return nil
	default:
		return invariantf(ev, "", nil, "unknown event kind %q", ev.Kind)
	}
}

func invariantf(ev eventlog.Event, agentID string, txIDs []string, format string, args ...any) *SettlementInvariantError {
	return &SettlementInvariantError{
		Tick:    ev.Tick,
		AgentID: agentID,
		TxIDs:   txIDs,
		Message: fmt.Sprintf("%s: %s", ev.Kind, fmt.Sprintf(format, args...)),
	}
}

func (s *SimulationState) mustAgent(ev eventlog.Event, id string) (*Agent, error) {
	a := s.agent(id)
	if a == nil {
		return nil, invariantf(ev, id, nil, "%s", ErrUnknownAgent)
	}
	return a, nil
}

// mustOpenTx returns a non-terminal transaction.
func (s *SimulationState) mustOpenTx(ev eventlog.Event, id string) (*Transaction, error) {
	tx := s.tx(id)
	if tx == nil {
		return nil, invariantf(ev, "", []string{id}, "%s", ErrUnknownTransaction)
	}
	if tx.Status.IsTerminal() {
		return nil, invariantf(ev, tx.SenderID, []string{id}, "transaction is %s", tx.Status)
	}
	return tx, nil
}

func (s *SimulationState) applyArrival(ev eventlog.Event) error {
	sender, err := s.mustAgent(ev, ev.AgentID)
	if err != nil {
		return err
	}
	if _, err := s.mustAgent(ev, ev.CounterpartyID); err != nil {
		return err
	}
	if want := s.peekTxID(); ev.TxID != want {
		return invariantf(ev, sender.ID, []string{ev.TxID}, "expected id %s", want)
	}
	if ev.Amount <= 0 {
		return invariantf(ev, sender.ID, []string{ev.TxID}, "amount %d must be positive", ev.Amount)
	}
	if ev.Priority < 0 || ev.Priority > workload.MaxPriority {
		return invariantf(ev, sender.ID, []string{ev.TxID}, "priority %d out of range", ev.Priority)
	}
	tx := newTransaction(ev.TxID, sender.ID, ev.CounterpartyID, ev.Amount, ev.Tick, ev.DeadlineTick, ev.Priority, ev.Divisible)
	if err := s.addTransaction(tx); err != nil {
		return invariantf(ev, sender.ID, []string{ev.TxID}, "%s", err)
	}
	s.NextTxSeq++
	sender.Queue1 = append(sender.Queue1, tx.ID)
	return nil
}

// queue1Tx returns an open transaction waiting in its sender's Queue 1
// together with its position there.
func (s *SimulationState) queue1Tx(ev eventlog.Event) (*Transaction, *Agent, int, error) {
	tx, err := s.mustOpenTx(ev, ev.TxID)
	if err != nil {
		return nil, nil, 0, err
	}
	sender := s.agent(tx.SenderID)
	pos := slices.Index(sender.Queue1, tx.ID)
	if pos < 0 {
		return nil, nil, 0, invariantf(ev, sender.ID, []string{tx.ID}, "not in queue 1")
	}
	return tx, sender, pos, nil
}

func (s *SimulationState) applyRelease(ev eventlog.Event) error {
	tx, sender, pos, err := s.queue1Tx(ev)
	if err != nil {
		return err
	}
	if ev.Amount != tx.RemainingAmount {
		return invariantf(ev, sender.ID, []string{tx.ID}, "released %d of remaining %d", ev.Amount, tx.RemainingAmount)
	}
	if sender.BudgetRemaining != NoLimit {
		if ev.Amount > sender.BudgetRemaining {
			return invariantf(ev, sender.ID, []string{tx.ID}, "release of %d exceeds budget %d", ev.Amount, sender.BudgetRemaining)
		}
		sender.BudgetRemaining -= ev.Amount
	}
	sender.Queue1 = slices.Delete(sender.Queue1, pos, pos+1)
	return nil
}

func (s *SimulationState) applyDrop(ev eventlog.Event) error {
	tx, sender, pos, err := s.queue1Tx(ev)
	if err != nil {
		return err
	}
	if err := tx.transition(StatusDropped); err != nil {
		return invariantf(ev, sender.ID, []string{tx.ID}, "%s", err)
	}
	tx.DropReason = ev.Reason
	sender.Queue1 = slices.Delete(sender.Queue1, pos, pos+1)
	return nil
}

// applySplit replaces the parent in Queue 1 with its children, in place.
// Children inherit the parent's deadline, priority and overdue state and
// are not themselves divisible.
func (s *SimulationState) applySplit(ev eventlog.Event) error {
	parent, sender, pos, err := s.queue1Tx(ev)
	if err != nil {
		return err
	}
	if len(ev.Children) < policy.MinSplits {
		return invariantf(ev, sender.ID, []string{parent.ID}, "split into %d children", len(ev.Children))
	}
	total := int64(0)
	ids := make([]string, len(ev.Children))
	for i, c := range ev.Children {
		if c.Amount <= 0 || c.TxID != childTxID(parent.ID, i) || s.tx(c.TxID) != nil {
			return invariantf(ev, sender.ID, []string{parent.ID, c.TxID}, "bad split child %d", i)
		}
		total += c.Amount
		ids[i] = c.TxID
	}
	if total != parent.RemainingAmount {
		return invariantf(ev, sender.ID, []string{parent.ID}, "children sum to %d, remaining is %d", total, parent.RemainingAmount)
	}
	if ev.Amount < 0 {
		return invariantf(ev, sender.ID, []string{parent.ID}, "negative split friction %d", ev.Amount)
	}

	parent.Status = StatusSplit
	for _, c := range ev.Children {
		child := newTransaction(c.TxID, parent.SenderID, parent.ReceiverID, c.Amount,
			parent.ArrivalTick, parent.DeadlineTick, parent.Priority, false)
		child.OriginalPriority = parent.OriginalPriority
		child.ParentID = parent.ID
		if parent.IsOverdue() {
			child.Status = StatusOverdue
			child.OverdueSinceTick = parent.OverdueSinceTick
		}
		s.Transactions = append(s.Transactions, child)
		s.txIndex[child.ID] = child
	}
	sender.Queue1 = slices.Replace(sender.Queue1, pos, pos+1, ids...)
	sender.Costs.SplitFriction += ev.Amount
	return nil
}

func (s *SimulationState) applyPriority(ev eventlog.Event) error {
	tx, err := s.mustOpenTx(ev, ev.TxID)
	if err != nil {
		return err
	}
	if ev.Priority < 0 || ev.Priority > workload.MaxPriority {
		return invariantf(ev, tx.SenderID, []string{tx.ID}, "priority %d out of range", ev.Priority)
	}
	tx.Priority = ev.Priority
	return nil
}

func (s *SimulationState) applyBudget(ev eventlog.Event) error {
	a, err := s.mustAgent(ev, ev.AgentID)
	if err != nil {
		return err
	}
	if ev.Amount < 0 {
		return invariantf(ev, a.ID, nil, "negative release budget %d", ev.Amount)
	}
	a.BudgetRemaining = ev.Amount
	return nil
}

func (s *SimulationState) applyRegister(ev eventlog.Event) error {
	a, err := s.mustAgent(ev, ev.AgentID)
	if err != nil {
		return err
	}
	if !policy.IsRegister(ev.Register) {
		return invariantf(ev, a.ID, nil, "%q is not a register", ev.Register)
	}
	if math.IsNaN(ev.Value) || math.IsInf(ev.Value, 0) {
		return invariantf(ev, a.ID, nil, "register %s value %v", ev.Register, ev.Value)
	}
	if _, ok := a.Registers[ev.Register]; !ok && len(a.Registers) >= policy.MaxRegisters {
		return invariantf(ev, a.ID, nil, "more than %d registers", policy.MaxRegisters)
	}
	if a.Registers == nil {
		a.Registers = make(map[string]float64)
	}
	a.Registers[ev.Register] = ev.Value
	return nil
}

// applyCollateral posts (sign 1) or withdraws (sign -1) collateral.
// Collateral enters and leaves the system, so it counts as an external
// injection.
func (s *SimulationState) applyCollateral(ev eventlog.Event, sign int64) error {
	a, err := s.mustAgent(ev, ev.AgentID)
	if err != nil {
		return err
	}
	if ev.Amount <= 0 {
		return invariantf(ev, a.ID, nil, "collateral amount %d must be positive", ev.Amount)
	}
	if sign > 0 && ev.Amount > a.RemainingCollateralCapacity() {
		return invariantf(ev, a.ID, nil, "posting %d exceeds remaining capacity %d", ev.Amount, a.RemainingCollateralCapacity())
	}
	if sign < 0 && ev.Amount > a.MaxWithdrawable() {
		return invariantf(ev, a.ID, nil, "withdrawing %d exceeds withdrawable %d", ev.Amount, a.MaxWithdrawable())
	}
	a.PostedCollateral += sign * ev.Amount
	s.ExternalInjections += sign * ev.Amount
	return nil
}

// applyLegs moves money for every leg at once. Settlement kinds must
// name a transaction per leg; direct transfers must not. Each paying
// agent's resulting balance must respect its credit limit.
func (s *SimulationState) applyLegs(ev eventlog.Event) error {
	if len(ev.Legs) == 0 {
		return invariantf(ev, ev.AgentID, nil, "no legs")
	}
	direct := ev.Kind == eventlog.KindDirectTransfer
	txIDs := make([]string, 0, len(ev.Legs))
	delta := make(map[string]int64)
	var order []string
	for _, leg := range ev.Legs {
		if leg.Amount <= 0 {
			return invariantf(ev, leg.SenderID, txIDs, "leg amount %d must be positive", leg.Amount)
		}
		for _, id := range []string{leg.SenderID, leg.ReceiverID} {
			if _, err := s.mustAgent(ev, id); err != nil {
				return err
			}
			if _, seen := delta[id]; !seen {
				order = append(order, id)
				delta[id] = 0
			}
		}
		if leg.SenderID == leg.ReceiverID {
			return invariantf(ev, leg.SenderID, nil, "leg pays itself")
		}
		delta[leg.SenderID] -= leg.Amount
		delta[leg.ReceiverID] += leg.Amount

		if direct != (leg.TxID == "") {
			return invariantf(ev, leg.SenderID, []string{leg.TxID}, "leg transaction mismatch")
		}
		if direct {
			continue
		}
		tx := s.tx(leg.TxID)
		if tx == nil {
			return invariantf(ev, leg.SenderID, []string{leg.TxID}, "%s", ErrUnknownTransaction)
		}
		if slices.Contains(txIDs, tx.ID) {
			return invariantf(ev, leg.SenderID, []string{tx.ID}, "transaction settled twice")
		}
		txIDs = append(txIDs, tx.ID)
		if tx.SenderID != leg.SenderID || tx.ReceiverID != leg.ReceiverID {
			return invariantf(ev, leg.SenderID, []string{tx.ID}, "leg does not match transaction parties")
		}
		if err := tx.checkSettle(leg.Amount); err != nil {
			return invariantf(ev, leg.SenderID, []string{tx.ID}, "%s", err)
		}
	}
	for _, id := range order {
		a := s.agent(id)
		if d := delta[id]; d < 0 && !a.withinCredit(a.Balance+d, a.PostedCollateral) {
			return invariantf(ev, id, txIDs, "balance %d would exceed allowed overdraft %d", a.Balance+d, a.AllowedOverdraft())
		}
	}

	for _, id := range order {
		s.agent(id).Balance += delta[id]
	}
	if direct {
		return nil
	}
	for _, leg := range ev.Legs {
		tx := s.tx(leg.TxID)
		tx.settle(leg.Amount, ev.Tick)
		sender := s.agent(leg.SenderID)
		sender.DailyOutflow += leg.Amount
		if sender.BilateralOutflow == nil {
			sender.BilateralOutflow = make(map[string]int64)
		}
		sender.BilateralOutflow[leg.ReceiverID] += leg.Amount
		if tx.Status == StatusSettled && s.inQueue2(tx.ID) {
			s.dequeue2(tx)
		}
	}
	return nil
}

func (s *SimulationState) applyQueued(ev eventlog.Event) error {
	tx, err := s.mustOpenTx(ev, ev.TxID)
	if err != nil {
		return err
	}
	if s.inQueue2(tx.ID) || slices.Contains(s.agent(tx.SenderID).Queue1, tx.ID) {
		return invariantf(ev, tx.SenderID, []string{tx.ID}, "already queued")
	}
	s.enqueue2(tx)
	tx.QueuedTick = ev.Tick
	return nil
}

func (s *SimulationState) applyOverdue(ev eventlog.Event) error {
	tx, err := s.mustOpenTx(ev, ev.TxID)
	if err != nil {
		return err
	}
	if tx.IsOverdue() {
		return invariantf(ev, tx.SenderID, []string{tx.ID}, "already overdue")
	}
	if err := tx.transition(StatusOverdue); err != nil {
		return invariantf(ev, tx.SenderID, []string{tx.ID}, "%s", err)
	}
	tx.OverdueSinceTick = ev.Tick
	s.agent(tx.SenderID).Costs.DeadlinePenalty += ev.Amount
	return nil
}

func (s *SimulationState) applyEndOfDay(ev eventlog.Event) error {
	for _, p := range ev.Penalties {
		if _, err := s.mustAgent(ev, p.AgentID); err != nil {
			return err
		}
	}
	for _, id := range ev.WrittenOff {
		if _, err := s.mustOpenTx(ev, id); err != nil {
			return err
		}
	}

	for _, p := range ev.Penalties {
		s.agent(p.AgentID).Costs.EODPenalty += p.Amount
	}
	for _, id := range ev.WrittenOff {
		tx := s.tx(id)
		sender := s.agent(tx.SenderID)
		sender.Queue1 = removeID(sender.Queue1, id)
		if s.inQueue2(id) {
			s.dequeue2(tx)
		}
		tx.Status = StatusDropped
		tx.DropReason = DropReasonWrittenOff
	}
	for _, a := range s.Agents {
		a.DailyOutflow = 0
		a.BilateralOutflow = nil
	}
	return nil
}

func (s *SimulationState) applyBalance(ev eventlog.Event) error {
	a, err := s.mustAgent(ev, ev.AgentID)
	if err != nil {
		return err
	}
	if !a.withinCredit(a.Balance+ev.Amount, a.PostedCollateral) {
		return invariantf(ev, a.ID, nil, "balance %d would exceed allowed overdraft %d", a.Balance+ev.Amount, a.AllowedOverdraft())
	}
	a.Balance += ev.Amount
	s.ExternalInjections += ev.Amount
	return nil
}

func (s *SimulationState) applyRates(ev eventlog.Event) error {
	rates := s.Rates
	for _, name := range sortedKeys(ev.Rates) {
		v, err := decimal.NewFromString(ev.Rates[name])
		if err != nil {
			return invariantf(ev, "", nil, "rate %s: %s", name, err)
		}
		if rates, err = rates.with(name, v); err != nil {
			return invariantf(ev, "", nil, "%s", err)
		}
	}
	s.Rates = rates
	return nil
}

func (s *SimulationState) applyArrivalRate(ev eventlog.Event) error {
	if math.IsNaN(ev.Value) || math.IsInf(ev.Value, 0) || ev.Value < 0 {
		return invariantf(ev, ev.AgentID, nil, "arrival multiplier %v", ev.Value)
	}
	if ev.AgentID == "" {
		for _, a := range s.Agents {
			a.ArrivalMultiplier = ev.Value
		}
		return nil
	}
	a, err := s.mustAgent(ev, ev.AgentID)
	if err != nil {
		return err
	}
	a.ArrivalMultiplier = ev.Value
	return nil
}
