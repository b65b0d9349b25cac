// Package metrics exports simulation progress as Prometheus metrics.
//
// A Collector is fed one TickResult at a time from outside the engine
// and owns its own registry, so concurrent runs never share series.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rtgs-sim/rtgs-sim/sim"
	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

// AgentView is the part of the simulator query surface the collector reads.
type AgentView interface {
	AgentIDs() []string
	Agent(id string) (sim.Agent, error)
}

// Collector holds the run's series.
type Collector struct {
	registry *prometheus.Registry

	ticks         prometheus.Counter
	arrivals      prometheus.Counter
	settlements   prometheus.Counter
	nettedLegs    prometheus.Counter
	costAccrued   prometheus.Counter
	queue2Depth   prometheus.Gauge
	eventsByKind  *prometheus.CounterVec
	agentBalance  *prometheus.GaugeVec
	agentCredit   *prometheus.GaugeVec
	agentCost     *prometheus.GaugeVec
	agentQueue1   *prometheus.GaugeVec
	tickSettled   prometheus.Histogram
	endOfDayTicks prometheus.Counter
}

// NewCollector creates a collector registered with a fresh registry.
// constLabels are attached to every series, typically the run id.
func NewCollector(constLabels prometheus.Labels) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rtgs_ticks_total",
			Help:        "Ticks completed.",
			ConstLabels: constLabels,
		}),
		arrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rtgs_arrivals_total",
			Help:        "Payments entered into the system.",
			ConstLabels: constLabels,
		}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rtgs_settled_legs_total",
			Help:        "Payment legs settled by any mechanism.",
			ConstLabels: constLabels,
		}),
		nettedLegs: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rtgs_netted_legs_total",
			Help:        "Payment legs settled by bilateral offset or cycle.",
			ConstLabels: constLabels,
		}),
		costAccrued: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rtgs_cost_accrued_minor_units_total",
			Help:        "Costs accrued across all agents, in minor units.",
			ConstLabels: constLabels,
		}),
		queue2Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rtgs_queue2_depth",
			Help:        "Payments waiting in the central queue at the end of the tick.",
			ConstLabels: constLabels,
		}),
		eventsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rtgs_events_total",
			Help:        "Logged events by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		agentBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rtgs_agent_balance_minor_units",
			Help:        "Settlement account balance.",
			ConstLabels: constLabels,
		}, []string{"agent"}),
		agentCredit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rtgs_agent_credit_used_minor_units",
			Help:        "Intraday credit in use.",
			ConstLabels: constLabels,
		}, []string{"agent"}),
		agentCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rtgs_agent_cost_minor_units",
			Help:        "Accumulated cost by component.",
			ConstLabels: constLabels,
		}, []string{"agent", "component"}),
		agentQueue1: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rtgs_agent_queue1_depth",
			Help:        "Payments held in the agent's internal queue.",
			ConstLabels: constLabels,
		}, []string{"agent"}),
		tickSettled: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "rtgs_tick_settled_legs",
			Help:        "Payment legs settled per tick.",
			Buckets:     []float64{0, 1, 2, 5, 10, 20, 50, 100},
			ConstLabels: constLabels,
		}),
		endOfDayTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rtgs_days_completed_total",
			Help:        "Business days completed.",
			ConstLabels: constLabels,
		}),
	}
	c.registry.MustRegister(
		c.ticks, c.arrivals, c.settlements, c.nettedLegs, c.costAccrued,
		c.queue2Depth, c.eventsByKind, c.agentBalance, c.agentCredit,
		c.agentCost, c.agentQueue1, c.tickSettled, c.endOfDayTicks,
	)
	return c
}

// Registry exposes the collector's registry for serving or gathering.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveTick records one completed tick and the agents' positions after it.
func (c *Collector) ObserveTick(res sim.TickResult, view AgentView) error {
	c.ticks.Inc()
	c.arrivals.Add(float64(res.Counts.Arrivals))
	c.settlements.Add(float64(res.Counts.Settlements))
	c.nettedLegs.Add(float64(res.Counts.Netted))
	c.costAccrued.Add(float64(res.Counts.CostAccrued))
	c.queue2Depth.Set(float64(res.Counts.Queue2Depth))
	c.tickSettled.Observe(float64(res.Counts.Settlements))
	if res.EndOfDay {
		c.endOfDayTicks.Inc()
	}
	for _, ev := range res.Events {
		c.eventsByKind.WithLabelValues(string(ev.Kind)).Inc()
	}
	for _, id := range view.AgentIDs() {
		a, err := view.Agent(id)
		if err != nil {
			return fmt.Errorf("observing agent %s: %w", id, err)
		}
		c.agentBalance.WithLabelValues(id).Set(float64(a.Balance))
		c.agentCredit.WithLabelValues(id).Set(float64(a.CreditUsed()))
		c.agentQueue1.WithLabelValues(id).Set(float64(len(a.Queue1)))
		for component, v := range costComponents(a.Costs) {
			c.agentCost.WithLabelValues(id, component).Set(float64(v))
		}
	}
	return nil
}

func costComponents(b eventlog.CostBreakdown) map[string]int64 {
	return map[string]int64{
		"overdraft":        b.Overdraft,
		"delay":            b.Delay,
		"collateral":       b.Collateral,
		"deadline_penalty": b.DeadlinePenalty,
		"split_friction":   b.SplitFriction,
		"eod_penalty":      b.EODPenalty,
	}
}

// WriteTextfile writes the current values in the Prometheus text format,
// for node_exporter's textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
