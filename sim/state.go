package sim

import (
	"fmt"
	"slices"
)

// SimulationState is everything the engine mutates. It is changed only
// by applying events (see apply.go).
type SimulationState struct {
	Tick         int64          `json:"tick"`
	Agents       []*Agent       `json:"agents"`
	Transactions []*Transaction `json:"transactions"`
	// Queue2 holds submitted but unsettled transaction ids in entry order.
	Queue2    []string  `json:"queue2"`
	NextTxSeq int64     `json:"next_tx_seq"`
	Rates     CostRates `json:"rates"`
	// ExternalInjections is the signed sum of collateral changes and
	// scripted balance adjustments.
	ExternalInjections int64 `json:"external_injections"`
	InitialMoney       int64 `json:"initial_money"`

	agentIndex map[string]int
	txIndex    map[string]*Transaction
	// queue2BySender indexes Queue 2 entries per sender, in queue order.
	queue2BySender map[string][]string
}

// rebuildIndexes recomputes the unexported lookup tables from the
// exported fields.
func (s *SimulationState) rebuildIndexes() {
	s.agentIndex = make(map[string]int, len(s.Agents))
	for i, a := range s.Agents {
		s.agentIndex[a.ID] = i
	}
	s.txIndex = make(map[string]*Transaction, len(s.Transactions))
	for _, tx := range s.Transactions {
		s.txIndex[tx.ID] = tx
	}
	s.queue2BySender = make(map[string][]string)
	for _, id := range s.Queue2 {
		if tx := s.txIndex[id]; tx != nil {
			s.queue2BySender[tx.SenderID] = append(s.queue2BySender[tx.SenderID], id)
		}
	}
}

func (s *SimulationState) agent(id string) *Agent {
	i, ok := s.agentIndex[id]
	if !ok {
		return nil
	}
	return s.Agents[i]
}

func (s *SimulationState) tx(id string) *Transaction {
	return s.txIndex[id]
}

func (s *SimulationState) addTransaction(tx *Transaction) error {
	if _, dup := s.txIndex[tx.ID]; dup {
		return fmt.Errorf("duplicate transaction id %s", tx.ID)
	}
	s.Transactions = append(s.Transactions, tx)
	s.txIndex[tx.ID] = tx
	return nil
}

// txID formats the id of the n-th arrived transaction. Split children
// derive theirs from the parent (see childTxID).
func txID(n int64) string {
	return fmt.Sprintf("tx-%06d", n)
}

// peekTxID is the id the next arrival will get.
func (s *SimulationState) peekTxID() string {
	return txID(s.NextTxSeq + 1)
}

func childTxID(parent string, i int) string {
	return fmt.Sprintf("%s/s%d", parent, i+1)
}

func (s *SimulationState) inQueue2(id string) bool {
	tx := s.txIndex[id]
	return tx != nil && slices.Contains(s.queue2BySender[tx.SenderID], id)
}

func (s *SimulationState) enqueue2(tx *Transaction) {
	s.Queue2 = append(s.Queue2, tx.ID)
	s.queue2BySender[tx.SenderID] = append(s.queue2BySender[tx.SenderID], tx.ID)
}

func (s *SimulationState) dequeue2(tx *Transaction) {
	s.Queue2 = removeID(s.Queue2, tx.ID)
	q := removeID(s.queue2BySender[tx.SenderID], tx.ID)
	if len(q) == 0 {
		delete(s.queue2BySender, tx.SenderID)
	} else {
		s.queue2BySender[tx.SenderID] = q
	}
}

// queued returns the Queue 2 entries from sender to receiver in queue order.
func (s *SimulationState) queued(sender, receiver string) []*Transaction {
	var out []*Transaction
	for _, id := range s.queue2BySender[sender] {
		if tx := s.txIndex[id]; tx.ReceiverID == receiver {
			out = append(out, tx)
		}
	}
	return out
}

// outgoing returns every unsettled transaction the agent owes, Queue 1
// first, then Queue 2.
func (s *SimulationState) outgoing(a *Agent) []*Transaction {
	out := make([]*Transaction, 0, len(a.Queue1)+len(s.queue2BySender[a.ID]))
	for _, id := range a.Queue1 {
		out = append(out, s.txIndex[id])
	}
	for _, id := range s.queue2BySender[a.ID] {
		out = append(out, s.txIndex[id])
	}
	return out
}

// TotalMoney is Σ balances + Σ posted collateral.
func (s *SimulationState) TotalMoney() int64 {
	total := int64(0)
	for _, a := range s.Agents {
		total += a.Balance + a.PostedCollateral
	}
	return total
}

func removeID(ids []string, id string) []string {
	i := slices.Index(ids, id)
	if i < 0 {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}
