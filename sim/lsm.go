package sim

import (
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

// maxCycleCandidates bounds how many cycles one search examines.
const maxCycleCandidates = 10000

func sumRemaining(txs []*Transaction) int64 {
	total := int64(0)
	for _, tx := range txs {
		total += tx.RemainingAmount
	}
	return total
}

// offsetLegs nets two opposing flows, ab paid by one agent and ba by the
// other. The smaller flow settles in full. The larger settles in order up
// to the smaller total plus its payer's available liquidity; a divisible
// payment may settle partially, one that does not fit is skipped. No legs
// are returned when nothing offsets or the smaller side's payer cannot
// cover its net outflow.
func (s *SimulationState) offsetLegs(ab, ba []*Transaction) []eventlog.Leg {
	sumAB, sumBA := sumRemaining(ab), sumRemaining(ba)
	if sumAB == 0 || sumBA == 0 {
		return nil
	}
	small, large, swapped := ab, ba, false
	if sumBA < sumAB {
		small, large, swapped = ba, ab, true
	}
	sumSmall := sumRemaining(small)
	smallPayer := s.agent(small[0].SenderID)
	largePayer := s.agent(large[0].SenderID)

	budget := sumSmall + max(0, largePayer.AvailableLiquidity())
	var largeLegs []eventlog.Leg
	settled := int64(0)
	for _, tx := range large {
		left := budget - settled
		if left <= 0 {
			break
		}
		amount := tx.RemainingAmount
		if amount > left {
			if !tx.Divisible {
				continue
			}
			amount = left
		}
		largeLegs = append(largeLegs, legFor(tx, amount))
		settled += amount
	}
	if settled == 0 {
		return nil
	}
	if net := sumSmall - settled; net > 0 && smallPayer.AvailableLiquidity() < net {
		return nil
	}

	smallLegs := make([]eventlog.Leg, len(small))
	for i, tx := range small {
		smallLegs[i] = legFor(tx, tx.RemainingAmount)
	}
	if swapped {
		return append(largeLegs, smallLegs...)
	}
	return append(smallLegs, largeLegs...)
}

// bilateralPass offsets every agent pair with opposing Queue 2 flows,
// pairs visited in configuration order.
func (sim *Simulator) bilateralPass() (bool, error) {
	st := sim.state
	progress := false
	for i, a := range st.Agents {
		if len(st.queue2BySender[a.ID]) == 0 {
			continue
		}
		for _, b := range st.Agents[i+1:] {
			ab := st.queued(a.ID, b.ID)
			if len(ab) == 0 {
				continue
			}
			ba := st.queued(b.ID, a.ID)
			if len(ba) == 0 {
				continue
			}
			legs := st.offsetLegs(ab, ba)
			if len(legs) == 0 {
				continue
			}
			if err := sim.emit(eventlog.Event{
				Kind:           eventlog.KindBilateralOffset,
				AgentID:        a.ID,
				CounterpartyID: b.ID,
				Legs:           legs,
			}); err != nil {
				return false, err
			}
			progress = true
		}
	}
	return progress, nil
}

// paymentGraph is the Queue 2 flow between agents, nodes being agent
// indices. Rebuilt from scratch for every search.
type paymentGraph struct {
	adj   [][]int
	edges map[[2]int][]*Transaction
}

func (s *SimulationState) buildGraph() *paymentGraph {
	g := &paymentGraph{
		adj:   make([][]int, len(s.Agents)),
		edges: make(map[[2]int][]*Transaction),
	}
	for _, id := range s.Queue2 {
		tx := s.tx(id)
		from, to := s.agentIndex[tx.SenderID], s.agentIndex[tx.ReceiverID]
		key := [2]int{from, to}
		if _, ok := g.edges[key]; !ok {
			g.adj[from] = append(g.adj[from], to)
		}
		g.edges[key] = append(g.edges[key], tx)
	}
	for i := range g.adj {
		slices.Sort(g.adj[i])
	}
	return g
}

// cycleLegs returns one full-settlement leg per payment on the cycle's
// edges.
func (g *paymentGraph) cycleLegs(cycle []int) []eventlog.Leg {
	var legs []eventlog.Leg
	for k, from := range cycle {
		to := cycle[(k+1)%len(cycle)]
		for _, tx := range g.edges[[2]int{from, to}] {
			legs = append(legs, legFor(tx, tx.RemainingAmount))
		}
	}
	return legs
}

// feasible reports whether every net payer on the cycle can cover its
// net outflow.
func (s *SimulationState) feasible(g *paymentGraph, cycle []int) bool {
	net := make(map[int]int64, len(cycle))
	for k, from := range cycle {
		to := cycle[(k+1)%len(cycle)]
		flow := sumRemaining(g.edges[[2]int{from, to}])
		net[from] -= flow
		net[to] += flow
	}
	for _, i := range cycle {
		if n := net[i]; n < 0 && s.Agents[i].AvailableLiquidity() < -n {
			return false
		}
	}
	return true
}

// firstFeasibleCycle enumerates elementary cycles with lengths in
// [minLen, maxLen]. Each cycle starts at its lowest agent index and
// neighbours are explored in index order, so the search order is fixed.
func (s *SimulationState) firstFeasibleCycle(g *paymentGraph, minLen, maxLen int) []int {
	examined := 0
	onPath := make([]bool, len(g.adj))
	var path []int
	var found []int

	var visit func(start, node int) bool
	visit = func(start, node int) bool {
		for _, next := range g.adj[node] {
			if next == start && len(path) >= minLen {
				examined++
				if s.feasible(g, path) {
					found = slices.Clone(path)
					return true
				}
				if examined >= maxCycleCandidates {
					return true
				}
				continue
			}
			if next <= start || onPath[next] || len(path) >= maxLen {
				continue
			}
			onPath[next] = true
			path = append(path, next)
			if visit(start, next) {
				return true
			}
			path = path[:len(path)-1]
			onPath[next] = false
		}
		return false
	}

	for start := range g.adj {
		path = append(path[:0], start)
		onPath[start] = true
		stop := visit(start, start)
		onPath[start] = false
		if stop {
			break
		}
	}
	if found == nil && examined >= maxCycleCandidates {
		logrus.Warnf("[tick %07d] cycle search stopped after %d candidates", s.Tick, examined)
	}
	return found
}

// cyclePass settles feasible cycles one at a time, rebuilding the graph
// after each, until none is left or the per-tick cap is reached.
func (sim *Simulator) cyclePass() (bool, error) {
	minLen := 3
	if !sim.cfg.LSM.EnableBilateral {
		minLen = 2
	}
	progress := false
	for sim.cyclesThisTick < *sim.cfg.LSM.MaxCyclesPerTick {
		g := sim.state.buildGraph()
		cycle := sim.state.firstFeasibleCycle(g, minLen, *sim.cfg.LSM.MaxCycleLength)
		if cycle == nil {
			break
		}
		if err := sim.emit(eventlog.Event{
			Kind:    eventlog.KindCycleSettled,
			AgentID: sim.state.Agents[cycle[0]].ID,
			Value:   float64(len(cycle)),
			Legs:    g.cycleLegs(cycle),
		}); err != nil {
			return false, err
		}
		sim.cyclesThisTick++
		progress = true
	}
	return progress, nil
}
