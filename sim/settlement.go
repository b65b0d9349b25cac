package sim

import (
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

// Event reasons.
const (
	ReasonInsufficientLiquidity = "insufficient_liquidity"
	ReasonBilateralLimit        = "bilateral_limit"
	ReasonMultilateralLimit     = "multilateral_limit"
	ReasonReleaseBudget         = "release_budget"
	ReasonEvaluationError       = "evaluation_error"
	ReasonEntryOffset           = "entry"
	ReasonScenario              = "scenario"
)

// submit settles a released payment. An opposing Queue 2 flow is offset
// first when bilateral offsetting is on; whatever remains settles gross
// if the sender has the liquidity and no limit would be breached, and is
// queued otherwise.
func (sim *Simulator) submit(tx *Transaction) error {
	st := sim.state
	if sim.cfg.LSM.EnableBilateral {
		if opposing := st.queued(tx.ReceiverID, tx.SenderID); len(opposing) > 0 {
			if legs := st.offsetLegs([]*Transaction{tx}, opposing); len(legs) > 0 {
				if err := sim.emit(eventlog.Event{
					Kind:           eventlog.KindBilateralOffset,
					AgentID:        tx.SenderID,
					CounterpartyID: tx.ReceiverID,
					TxID:           tx.ID,
					Reason:         ReasonEntryOffset,
					Legs:           legs,
				}); err != nil {
					return err
				}
				if tx.Status == StatusSettled {
					return nil
				}
			}
		}
	}

	sender := st.agent(tx.SenderID)
	if reason := sender.limitBreach(tx.ReceiverID, tx.RemainingAmount); reason != "" {
		if err := sim.emit(eventlog.Event{
			Kind:           eventlog.KindLimitBreach,
			AgentID:        sender.ID,
			CounterpartyID: tx.ReceiverID,
			TxID:           tx.ID,
			Amount:         tx.RemainingAmount,
			Reason:         reason,
		}); err != nil {
			return err
		}
		return sim.enqueue(tx, reason)
	}
	if sender.AvailableLiquidity() < tx.RemainingAmount {
		return sim.enqueue(tx, ReasonInsufficientLiquidity)
	}
	return sim.emit(eventlog.Event{
		Kind:           eventlog.KindRtgsSettled,
		AgentID:        sender.ID,
		CounterpartyID: tx.ReceiverID,
		TxID:           tx.ID,
		Legs:           []eventlog.Leg{legFor(tx, tx.RemainingAmount)},
	})
}

func (sim *Simulator) enqueue(tx *Transaction, reason string) error {
	return sim.emit(eventlog.Event{
		Kind:           eventlog.KindRtgsQueued,
		AgentID:        tx.SenderID,
		CounterpartyID: tx.ReceiverID,
		TxID:           tx.ID,
		Amount:         tx.RemainingAmount,
		Reason:         reason,
	})
}

func legFor(tx *Transaction, amount int64) eventlog.Leg {
	return eventlog.Leg{TxID: tx.ID, SenderID: tx.SenderID, ReceiverID: tx.ReceiverID, Amount: amount}
}

// processQueue2 runs retry, bilateral offsetting and cycle settlement
// until a pass makes no progress or the iteration cap is reached.
func (sim *Simulator) processQueue2() error {
	lsm := sim.cfg.LSM
	for iter := 0; iter < *lsm.MaxIterations && len(sim.state.Queue2) > 0; iter++ {
		progress, err := sim.retryQueue2()
		if err != nil {
			return err
		}
		if lsm.EnableBilateral {
			offset, err := sim.bilateralPass()
			if err != nil {
				return err
			}
			progress = progress || offset
		}
		if lsm.EnableCycles {
			cycled, err := sim.cyclePass()
			if err != nil {
				return err
			}
			progress = progress || cycled
		}
		if !progress {
			break
		}
		logrus.Debugf("[tick %07d] queue 2 pass %d: %d entries remain", sim.state.Tick, iter, len(sim.state.Queue2))
	}
	return nil
}

// retryOrder is Queue 2 in entry order, or by descending priority with
// entry order breaking ties.
func (sim *Simulator) retryOrder() []*Transaction {
	out := make([]*Transaction, len(sim.state.Queue2))
	for i, id := range sim.state.Queue2 {
		out[i] = sim.state.tx(id)
	}
	if sim.cfg.Queue2Ordering == Queue2Priority {
		slices.SortStableFunc(out, func(a, b *Transaction) int { return b.Priority - a.Priority })
	}
	return out
}

// retryQueue2 settles every queued payment the sender can now cover in
// full without breaching a limit.
func (sim *Simulator) retryQueue2() (bool, error) {
	progress := false
	for _, tx := range sim.retryOrder() {
		sender := sim.state.agent(tx.SenderID)
		if sender.limitBreach(tx.ReceiverID, tx.RemainingAmount) != "" || sender.AvailableLiquidity() < tx.RemainingAmount {
			continue
		}
		if err := sim.emit(eventlog.Event{
			Kind:           eventlog.KindQueueSettled,
			AgentID:        sender.ID,
			CounterpartyID: tx.ReceiverID,
			TxID:           tx.ID,
			Legs:           []eventlog.Leg{legFor(tx, tx.RemainingAmount)},
		}); err != nil {
			return false, err
		}
		progress = true
	}
	return progress, nil
}
