package sim

import (
	"maps"
	"math"

	"github.com/rtgs-sim/rtgs-sim/sim/policy"
)

// unbounded is what policies read for an absent limit or budget.
const unbounded = float64(math.MaxInt64)

func limitField(v int64) float64 {
	if v == NoLimit {
		return unbounded
	}
	return float64(v)
}

func boolField(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// agentFields is the agent-level view shared by every tree.
func (sim *Simulator) agentFields(a *Agent) map[string]float64 {
	st := sim.state
	tpd := sim.cfg.TicksPerDay
	tickInDay := st.Tick % tpd
	progress := float64(tickInDay) / float64(tpd)

	queue1Value := int64(0)
	for _, id := range a.Queue1 {
		queue1Value += st.tx(id).RemainingAmount
	}
	queue2Value, incoming := int64(0), int64(0)
	for _, id := range st.Queue2 {
		tx := st.tx(id)
		queue2Value += tx.RemainingAmount
		if tx.ReceiverID == a.ID {
			incoming += tx.RemainingAmount
		}
	}

	f := map[string]float64{
		policy.FieldBalance:              float64(a.Balance),
		policy.FieldEffectiveLiquidity:   float64(a.AvailableLiquidity() + incoming),
		policy.FieldAvailableLiquidity:   float64(a.AvailableLiquidity()),
		policy.FieldCreditLimit:          float64(a.AllowedOverdraft()),
		policy.FieldCreditUsed:           float64(a.CreditUsed()),
		policy.FieldCreditHeadroom:       float64(a.CreditHeadroom()),
		policy.FieldPostedCollateral:     float64(a.PostedCollateral),
		policy.FieldCollateralHaircut:    a.CollateralHaircut.InexactFloat64(),
		policy.FieldCollateralCapacity:   float64(a.RemainingCollateralCapacity()),
		policy.FieldUnsecuredCap:         float64(a.UnsecuredCap),
		policy.FieldQueue1Size:           float64(len(a.Queue1)),
		policy.FieldQueue1Value:          float64(queue1Value),
		policy.FieldQueue2Size:           float64(len(st.Queue2)),
		policy.FieldQueue2Value:          float64(queue2Value),
		policy.FieldQueue2OutgoingSize:   float64(len(st.queue2BySender[a.ID])),
		policy.FieldQueue2IncomingValue:  float64(incoming),
		policy.FieldReleaseBudget:        limitField(a.BudgetRemaining),
		policy.FieldMultilateralHeadroom: limitField(a.MultilateralHeadroom()),
		policy.FieldDailyOutflow:         float64(a.DailyOutflow),
		policy.FieldCurrentTick:          float64(st.Tick),
		policy.FieldTicksPerDay:          float64(tpd),
		policy.FieldDay:                  float64(st.Tick / tpd),
		policy.FieldTickInDay:            float64(tickInDay),
		policy.FieldDayProgress:          progress,
		policy.FieldIsEODRush:            boolField(progress >= *sim.cfg.EODRushThreshold),
		policy.FieldTicksRemainingInDay:  float64(tpd - tickInDay - 1),
	}
	maps.Copy(f, st.Rates.asFields())
	maps.Copy(f, a.Registers)
	return f
}

// paymentContext extends the agent view with one Queue 1 payment.
func (sim *Simulator) paymentContext(a *Agent, base map[string]float64, tx *Transaction, pos int) *policy.Context {
	st := sim.state
	f := maps.Clone(base)
	f[policy.FieldAmount] = float64(tx.Amount)
	f[policy.FieldRemainingAmount] = float64(tx.RemainingAmount)
	f[policy.FieldSettledAmount] = float64(tx.SettledAmount())
	f[policy.FieldPriority] = float64(tx.Priority)
	f[policy.FieldArrivalTick] = float64(tx.ArrivalTick)
	f[policy.FieldDeadlineTick] = float64(tx.DeadlineTick)
	f[policy.FieldTicksToDeadline] = float64(tx.DeadlineTick - st.Tick)
	f[policy.FieldTicksInQueue] = float64(st.Tick - tx.ArrivalTick)
	f[policy.FieldIsOverdue] = boolField(tx.IsOverdue())
	f[policy.FieldIsDivisible] = boolField(tx.Divisible)
	f[policy.FieldIsSplitChild] = boolField(tx.ParentID != "")
	f[policy.FieldBilateralHeadroom] = limitField(a.BilateralHeadroom(tx.ReceiverID))
	f[policy.FieldCounterpartyQueued] = float64(sumRemaining(st.queued(tx.ReceiverID, tx.SenderID)))
	f[policy.FieldQueue1Position] = float64(pos)
	f[policy.FieldLiquidityAfterRelease] = float64(a.AvailableLiquidity() - tx.RemainingAmount)
	return policy.NewContext(f)
}
