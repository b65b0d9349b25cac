package eventlog

// Summary aggregates statistics from an event list.
type Summary struct {
	TotalEvents      int
	Ticks            int
	Arrivals         int
	ArrivalValue     int64
	SettledValue     int64
	RtgsSettlements  int
	QueueSettlements int
	BilateralOffsets int
	CyclesSettled    int
	NettedLegs       int
	Overdue          int
	Dropped          int
	LimitBreaches    int
	ScenarioSkipped  int
	KindCounts       map[Kind]int
}

// Summarize computes aggregate statistics from events.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(events []Event) *Summary {
	summary := &Summary{KindCounts: make(map[Kind]int)}
	summary.TotalEvents = len(events)
	for _, ev := range events {
		summary.KindCounts[ev.Kind]++
		if ev.IsSettlement() {
			summary.SettledValue += ev.SettledValue()
		}
		switch ev.Kind {
		case KindArrival:
			summary.Arrivals++
			summary.ArrivalValue += ev.Amount
		case KindRtgsSettled:
			summary.RtgsSettlements++
		case KindQueueSettled:
			summary.QueueSettlements++
		case KindBilateralOffset:
			summary.BilateralOffsets++
			summary.NettedLegs += len(ev.Legs)
		case KindCycleSettled:
			summary.CyclesSettled++
			summary.NettedLegs += len(ev.Legs)
		case KindTransactionOverdue:
			summary.Overdue++
		case KindPolicyDrop:
			summary.Dropped++
		case KindEndOfDay:
			summary.Dropped += len(ev.WrittenOff)
		case KindLimitBreach:
			summary.LimitBreaches++
		case KindScenarioSkipped:
			summary.ScenarioSkipped++
		case KindTickCompleted:
			summary.Ticks++
		}
	}
	return summary
}
