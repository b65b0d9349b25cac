// Package sim provides the deterministic settlement engine for RTGS-SIM.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - transaction.go, agent.go, state.go: the data model and its invariants
//   - apply.go: the only code that mutates state; every change is an event
//   - simulator.go: the tick loop and the order of its phases
//
// # Tick phases
//
// Each Advance runs, in order: scheduled scenario events, priority
// escalation, arrivals, policy evaluation per agent (bank tree, strategic
// collateral tree, payment tree over Queue 1), submission of released
// payments, Queue 2 processing (retry, bilateral offsetting, cycle
// settlement), end-of-tick collateral trees, overdue marking and cost
// accrual, end-of-day handling, and the TickCompleted commit.
//
// # Sub-packages
//
//   - sim/policy/: decision-tree policies, their loader, evaluator and static validator
//   - sim/workload/: stochastic arrival generation
//   - sim/eventlog/: the event types, append-only log, filters and text format
//   - sim/metrics/: Prometheus collector fed from tick results
//   - sim/store/: SQLite persistence of runs, events and snapshots
//
// Money is int64 minor units throughout. A running Simulator is not safe
// for concurrent use; parallel experiments use independent instances.
package sim
