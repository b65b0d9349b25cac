package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/rtgs-sim/rtgs-sim/sim"
)

// printReport writes a human-readable summary of a run.
func printReport(w io.Writer, runID string, r *sim.RunReport) {
	fmt.Fprintln(w, "=== Simulation Report ===")
	fmt.Fprintf(w, "Run:               %s\n", runID)
	fmt.Fprintf(w, "Ticks:             %d\n", r.Ticks)
	fmt.Fprintf(w, "Arrivals:          %s (value %s)\n", humanize.Comma(int64(r.Arrivals)), humanize.Comma(r.ArrivalValue))
	fmt.Fprintf(w, "Settled value:     %s (%s%%)\n", humanize.Comma(r.SettledValue), humanize.CommafWithDigits(r.SettlementRate*100, 2))
	fmt.Fprintf(w, "Settled:           %d  unsettled: %d  dropped: %d  overdue: %d\n", r.Settled, r.Unsettled, r.Dropped, r.Overdue)
	fmt.Fprintf(w, "Settlement paths:  rtgs %d  queue %d  bilateral %d  cycles %d  (netted legs %d)\n",
		r.RtgsSettlements, r.QueueSettlements, r.BilateralOffsets, r.CyclesSettled, r.NettedLegs)
	fmt.Fprintf(w, "Delay (ticks):     mean %.2f  p50 %.1f  p99 %.1f\n", r.MeanSettlementDelay, r.P50SettlementDelay, r.P99SettlementDelay)
	if r.ScenarioSkipped > 0 {
		fmt.Fprintf(w, "Skipped scenario events: %d\n", r.ScenarioSkipped)
	}
	fmt.Fprintf(w, "Total cost:        %s\n", humanize.Comma(r.TotalCost))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "agent\topening\tfinal\tcollateral\tcredit used\tbreaches\tcost\t")
	for _, a := range r.Agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t\n",
			a.ID,
			humanize.Comma(a.OpeningBalance),
			humanize.Comma(a.FinalBalance),
			humanize.Comma(a.PostedCollateral),
			humanize.Comma(a.CreditUsed),
			a.LimitBreaches,
			humanize.Comma(a.TotalCost))
	}
	tw.Flush()
}
