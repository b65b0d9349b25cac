// Aggregates end-of-run settlement statistics: volumes, settlement delay
// and per-agent costs.

package sim

import (
	"encoding/json"
	"math"
	"os"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

// RunReport summarizes a run for final reporting.
type RunReport struct {
	Ticks          int64   `json:"ticks"`
	Arrivals       int     `json:"arrivals"`
	ArrivalValue   int64   `json:"arrival_value"`
	SettledValue   int64   `json:"settled_value"`
	SettlementRate float64 `json:"settlement_rate"` // settled value / arrival value

	Settled   int `json:"settled"`   // payments fully settled (split parents excluded)
	Unsettled int `json:"unsettled"` // still open at the end of the run
	Dropped   int `json:"dropped"`
	Overdue   int `json:"overdue"` // payments that ever passed their deadline

	RtgsSettlements  int `json:"rtgs_settlements"`
	QueueSettlements int `json:"queue_settlements"`
	BilateralOffsets int `json:"bilateral_offsets"`
	CyclesSettled    int `json:"cycles_settled"`
	NettedLegs       int `json:"netted_legs"`
	LimitBreaches    int `json:"limit_breaches"`
	ScenarioSkipped  int `json:"scenario_skipped"`

	// Ticks from arrival to final settlement, over settled payments
	MeanSettlementDelay float64 `json:"mean_settlement_delay"`
	P50SettlementDelay  float64 `json:"p50_settlement_delay"`
	P99SettlementDelay  float64 `json:"p99_settlement_delay"`

	TotalCost int64         `json:"total_cost"`
	Agents    []AgentReport `json:"agents"`
}

// AgentReport is one agent's end-of-run position.
type AgentReport struct {
	ID               string        `json:"id"`
	OpeningBalance   int64         `json:"opening_balance"`
	FinalBalance     int64         `json:"final_balance"`
	PostedCollateral int64         `json:"posted_collateral"`
	CreditUsed       int64         `json:"credit_used"`
	LimitBreaches    int64         `json:"limit_breaches"`
	Costs            CostBreakdown `json:"costs"`
	TotalCost        int64         `json:"total_cost"`
}

// Report builds the run report from the current state and event log.
func (sim *Simulator) Report() *RunReport {
	s := eventlog.Summarize(sim.log.All())
	r := &RunReport{
		Ticks:            sim.state.Tick,
		Arrivals:         s.Arrivals,
		ArrivalValue:     s.ArrivalValue,
		SettledValue:     s.SettledValue,
		Dropped:          s.Dropped,
		Overdue:          s.Overdue,
		RtgsSettlements:  s.RtgsSettlements,
		QueueSettlements: s.QueueSettlements,
		BilateralOffsets: s.BilateralOffsets,
		CyclesSettled:    s.CyclesSettled,
		NettedLegs:       s.NettedLegs,
		LimitBreaches:    s.LimitBreaches,
		ScenarioSkipped:  s.ScenarioSkipped,
	}
	if s.ArrivalValue > 0 {
		r.SettlementRate = float64(s.SettledValue) / float64(s.ArrivalValue)
	}

	var delays []int64
	for _, tx := range sim.state.Transactions {
		switch {
		case tx.Status == StatusSettled:
			r.Settled++
			delays = append(delays, tx.SettledTick-tx.ArrivalTick)
		case !tx.Status.IsTerminal():
			r.Unsettled++
		}
	}
	if len(delays) > 0 {
		slices.Sort(delays)
		r.MeanSettlementDelay = CalculateMean(delays)
		r.P50SettlementDelay = CalculatePercentile(delays, 50)
		r.P99SettlementDelay = CalculatePercentile(delays, 99)
	}

	for _, a := range sim.state.Agents {
		total := a.Costs.Total()
		r.TotalCost += total
		r.Agents = append(r.Agents, AgentReport{
			ID:               a.ID,
			OpeningBalance:   a.OpeningBalance,
			FinalBalance:     a.Balance,
			PostedCollateral: a.PostedCollateral,
			CreditUsed:       a.CreditUsed(),
			LimitBreaches:    a.LimitBreaches,
			Costs:            a.Costs,
			TotalCost:        total,
		})
	}
	return r
}

// SaveReport writes the report as indented JSON.
func (r *RunReport) SaveReport(fileName string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(fileName, data, 0o644); err != nil {
		return err
	}
	logrus.Debugf("Successfully wrote report to '%s'", fileName)
	return nil
}

type IntOrFloat64 interface {
	int | int64 | float64
}

// CalculatePercentile returns the p-th percentile of sorted data by
// linear interpolation between closest ranks.
func CalculatePercentile[T IntOrFloat64](data []T, p float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	rank := p / 100.0 * float64(n-1)
	lowerIdx := int(math.Floor(rank))
	upperIdx := int(math.Ceil(rank))

	if lowerIdx == upperIdx || upperIdx >= n {
		return float64(data[min(lowerIdx, n-1)])
	}
	lowerVal := data[lowerIdx]
	upperVal := data[upperIdx]
	return float64(lowerVal) + float64(upperVal-lowerVal)*(rank-float64(lowerIdx))
}

// CalculateMean returns the arithmetic mean, or 0 for no data.
func CalculateMean[T IntOrFloat64](numbers []T) float64 {
	if len(numbers) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, number := range numbers {
		sum += float64(number)
	}

	return sum / float64(len(numbers))
}
