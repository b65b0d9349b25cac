package sim

import "fmt"

// TransactionStatus is the lifecycle state of a payment.
type TransactionStatus string

const (
	StatusPending          TransactionStatus = "pending"
	StatusPartiallySettled TransactionStatus = "partially_settled"
	StatusOverdue          TransactionStatus = "overdue"
	StatusSettled          TransactionStatus = "settled"
	StatusDropped          TransactionStatus = "dropped"
	// StatusSplit marks a parent replaced by its split children.
	StatusSplit TransactionStatus = "split"
)

// rank orders statuses; a transaction's rank never decreases.
func (s TransactionStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPartiallySettled:
		return 1
	case StatusOverdue:
		return 2
	default:
		return 3
	}
}

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusSettled || s == StatusDropped || s == StatusSplit
}

// notSet marks an unset tick field.
const notSet int64 = -1

// Drop reasons.
const (
	DropReasonPolicy     = "policy"
	DropReasonWrittenOff = "written_off"
)

// Transaction is a payment from SenderID to ReceiverID.
type Transaction struct {
	ID               string            `json:"id"`
	SenderID         string            `json:"sender_id"`
	ReceiverID       string            `json:"receiver_id"`
	Amount           int64             `json:"amount"`
	RemainingAmount  int64             `json:"remaining_amount"`
	ArrivalTick      int64             `json:"arrival_tick"`
	DeadlineTick     int64             `json:"deadline_tick"`
	Priority         int               `json:"priority"`
	OriginalPriority int               `json:"original_priority"`
	Divisible        bool              `json:"divisible"`
	ParentID         string            `json:"parent_id,omitempty"`
	Status           TransactionStatus `json:"status"`
	SettledTick      int64             `json:"settled_tick"`
	OverdueSinceTick int64             `json:"overdue_since_tick"`
	QueuedTick       int64             `json:"queued_tick"`
	DropReason       string            `json:"drop_reason,omitempty"`
}

func newTransaction(id, sender, receiver string, amount, arrival, deadline int64, priority int, divisible bool) *Transaction {
	return &Transaction{
		ID:               id,
		SenderID:         sender,
		ReceiverID:       receiver,
		Amount:           amount,
		RemainingAmount:  amount,
		ArrivalTick:      arrival,
		DeadlineTick:     deadline,
		Priority:         priority,
		OriginalPriority: priority,
		Divisible:        divisible,
		Status:           StatusPending,
		SettledTick:      notSet,
		OverdueSinceTick: notSet,
		QueuedTick:       notSet,
	}
}

// SettledAmount is the value already settled.
func (t *Transaction) SettledAmount() int64 {
	return t.Amount - t.RemainingAmount
}

// IsOverdue reports whether the deadline passed while unsettled.
func (t *Transaction) IsOverdue() bool {
	return t.OverdueSinceTick != notSet
}

// transition moves the transaction to next, refusing rank decreases and
// any move out of a terminal status.
func (t *Transaction) transition(next TransactionStatus) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("transaction %s is %s", t.ID, t.Status)
	}
	if next.rank() < t.Status.rank() {
		return fmt.Errorf("transaction %s cannot move from %s to %s", t.ID, t.Status, next)
	}
	t.Status = next
	return nil
}

// checkSettle reports why amount cannot settle now, without mutating.
func (t *Transaction) checkSettle(amount int64) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("transaction %s is %s", t.ID, t.Status)
	}
	if amount <= 0 || amount > t.RemainingAmount {
		return fmt.Errorf("transaction %s: settle %d of remaining %d", t.ID, amount, t.RemainingAmount)
	}
	if amount < t.RemainingAmount && !t.Divisible {
		return fmt.Errorf("transaction %s is not divisible", t.ID)
	}
	return nil
}

// settle applies a checked settlement amount. An overdue transaction
// that partially settles stays overdue.
func (t *Transaction) settle(amount, tick int64) {
	t.RemainingAmount -= amount
	switch {
	case t.RemainingAmount == 0:
		t.Status = StatusSettled
		t.SettledTick = tick
	case t.Status != StatusOverdue:
		t.Status = StatusPartiallySettled
	}
}
