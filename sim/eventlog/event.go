// Package eventlog holds the append-only record of every state change in
// a simulation. Events are self-contained: applying them in order to a
// fresh state reproduces the run exactly.
package eventlog

// Kind identifies what an event records.
type Kind string

const (
	KindArrival             Kind = "Arrival"
	KindPolicyRelease       Kind = "PolicyRelease"
	KindPolicyHold          Kind = "PolicyHold"
	KindPolicyDrop          Kind = "PolicyDrop"
	KindPolicySplit         Kind = "PolicySplit"
	KindPolicyReprioritize  Kind = "PolicyReprioritize"
	KindReleaseBudgetSet    Kind = "ReleaseBudgetSet"
	KindRegisterSet         Kind = "RegisterSet"
	KindCollateralPosted    Kind = "CollateralPosted"
	KindCollateralWithdrawn Kind = "CollateralWithdrawn"
	KindRtgsSettled         Kind = "RtgsSettled"
	KindRtgsQueued          Kind = "RtgsQueued"
	KindLimitBreach         Kind = "LimitBreach"
	KindQueueSettled        Kind = "QueueSettled"
	KindBilateralOffset     Kind = "BilateralOffset"
	KindCycleSettled        Kind = "CycleSettled"
	KindPriorityEscalated   Kind = "PriorityEscalated"
	KindTransactionOverdue  Kind = "TransactionOverdue"
	KindCostAccrual         Kind = "CostAccrual"
	KindEndOfDay            Kind = "EndOfDay"
	KindDirectTransfer      Kind = "DirectTransfer"
	KindBalanceAdjusted     Kind = "BalanceAdjusted"
	KindCostRatesChanged    Kind = "CostRatesChanged"
	KindArrivalRateChanged  Kind = "ArrivalRateChanged"
	KindScenarioSkipped     Kind = "ScenarioSkipped"
	KindTickCompleted       Kind = "TickCompleted"
)

// AllKinds lists every event kind.
var AllKinds = []Kind{
	KindArrival, KindPolicyRelease, KindPolicyHold, KindPolicyDrop, KindPolicySplit,
	KindPolicyReprioritize, KindReleaseBudgetSet, KindRegisterSet, KindCollateralPosted,
	KindCollateralWithdrawn, KindRtgsSettled, KindRtgsQueued, KindLimitBreach,
	KindQueueSettled, KindBilateralOffset, KindCycleSettled, KindPriorityEscalated,
	KindTransactionOverdue, KindCostAccrual, KindEndOfDay, KindDirectTransfer,
	KindBalanceAdjusted, KindCostRatesChanged, KindArrivalRateChanged,
	KindScenarioSkipped, KindTickCompleted,
}

// Leg moves Amount from SenderID to ReceiverID. TxID is empty for
// transfers that settle no transaction.
type Leg struct {
	TxID       string `json:"tx_id,omitempty"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Amount     int64  `json:"amount"`
}

// Child is one transaction created by a split.
type Child struct {
	TxID   string `json:"tx_id"`
	Amount int64  `json:"amount"`
}

// AgentPenalty is an end-of-day penalty charged to one agent.
type AgentPenalty struct {
	AgentID string `json:"agent_id"`
	Count   int    `json:"count"`
	Amount  int64  `json:"amount"`
}

// CostBreakdown splits accrued cost by component, in minor units.
type CostBreakdown struct {
	Overdraft       int64 `json:"overdraft"`
	Delay           int64 `json:"delay"`
	Collateral      int64 `json:"collateral"`
	DeadlinePenalty int64 `json:"deadline_penalty"`
	SplitFriction   int64 `json:"split_friction"`
	EODPenalty      int64 `json:"eod_penalty"`
}

// Total sums every component.
func (c CostBreakdown) Total() int64 {
	return c.Overdraft + c.Delay + c.Collateral + c.DeadlinePenalty + c.SplitFriction + c.EODPenalty
}

// Add accumulates o into c.
func (c *CostBreakdown) Add(o CostBreakdown) {
	c.Overdraft += o.Overdraft
	c.Delay += o.Delay
	c.Collateral += o.Collateral
	c.DeadlinePenalty += o.DeadlinePenalty
	c.SplitFriction += o.SplitFriction
	c.EODPenalty += o.EODPenalty
}

// TickCounts summarizes one tick; carried by TickCompleted.
type TickCounts struct {
	Arrivals    int   `json:"arrivals"`
	Settlements int   `json:"settlements"`
	Netted      int   `json:"netted"`
	Queue2Depth int   `json:"queue2_depth"`
	CostAccrued int64 `json:"cost_accrued"`
}

// Event is one entry of the log. Which optional fields are set depends
// on Kind. There are no wall-clock fields, so logs of identical runs are
// byte-identical.
type Event struct {
	Seq            int64             `json:"seq"`
	Tick           int64             `json:"tick"`
	Kind           Kind              `json:"kind"`
	AgentID        string            `json:"agent_id,omitempty"`
	CounterpartyID string            `json:"counterparty_id,omitempty"`
	TxID           string            `json:"tx_id,omitempty"`
	ParentID       string            `json:"parent_id,omitempty"`
	Amount         int64             `json:"amount,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	DeadlineTick   int64             `json:"deadline_tick,omitempty"`
	Divisible      bool              `json:"divisible,omitempty"`
	NodeID         string            `json:"node_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Register       string            `json:"register,omitempty"`
	Value          float64           `json:"value,omitempty"`
	Legs           []Leg             `json:"legs,omitempty"`
	Children       []Child           `json:"children,omitempty"`
	Costs          *CostBreakdown    `json:"costs,omitempty"`
	Penalties      []AgentPenalty    `json:"penalties,omitempty"`
	WrittenOff     []string          `json:"written_off,omitempty"`
	Rates          map[string]string `json:"rates,omitempty"`
	Counts         *TickCounts       `json:"counts,omitempty"`
}

// SettledValue sums the legs of the event.
func (e Event) SettledValue() int64 {
	total := int64(0)
	for _, l := range e.Legs {
		total += l.Amount
	}
	return total
}

// IsSettlement reports whether the event settles transactions.
func (e Event) IsSettlement() bool {
	switch e.Kind {
	case KindRtgsSettled, KindQueueSettled, KindBilateralOffset, KindCycleSettled:
		return true
	}
	return false
}
