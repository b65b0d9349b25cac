package workload

import (
	"fmt"
	"math/rand/v2"
)

// Arrival is one sampled payment, before it is assigned an id.
type Arrival struct {
	Receiver  string
	Amount    int64
	Priority  int
	Deadline  int64
	Divisible bool
}

// Generator samples arrivals for a single agent.
// Deterministic given the same config and RNG stream position.
type Generator struct {
	cfg      ArrivalConfig
	amount   AmountSampler
	priority PrioritySampler
	cpCDF    []float64
}

// NewGenerator builds the samplers for an arrival configuration.
func NewGenerator(cfg ArrivalConfig) (*Generator, error) {
	amount, err := NewAmountSampler(cfg.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount distribution: %w", err)
	}
	priority, err := NewPrioritySampler(cfg.Priority)
	if err != nil {
		return nil, fmt.Errorf("priority distribution: %w", err)
	}
	if len(cfg.Counterparties) == 0 {
		return nil, fmt.Errorf("no counterparties configured")
	}
	weights := make([]float64, len(cfg.Counterparties))
	for i, cp := range cfg.Counterparties {
		weights[i] = cp.Weight
	}
	return &Generator{
		cfg:      cfg,
		amount:   amount,
		priority: priority,
		cpCDF:    cumulative(weights),
	}, nil
}

// Generate draws this tick's arrivals. The count is Poisson with mean
// rate × multiplier; each arrival then draws amount, priority,
// counterparty and deadline offset, in that order. Deadlines are capped
// at lastTick.
func (g *Generator) Generate(rng *rand.Rand, tick, lastTick int64, multiplier float64) []Arrival {
	n := SamplePoisson(rng, g.cfg.RatePerTick*multiplier)
	if n == 0 {
		return nil
	}
	out := make([]Arrival, 0, n)
	span := g.cfg.Deadline.Max - g.cfg.Deadline.Min + 1
	for i := 0; i < n; i++ {
		amount := g.amount.Sample(rng)
		priority := g.priority.Sample(rng)
		receiver := g.cfg.Counterparties[pickIndex(g.cpCDF, rng.Float64())].Agent
		offset := g.cfg.Deadline.Min
		if span > 1 {
			offset += rng.Int64N(span)
		}
		out = append(out, Arrival{
			Receiver:  receiver,
			Amount:    amount,
			Priority:  priority,
			Deadline:  min(tick+offset, lastTick),
			Divisible: g.cfg.Divisible,
		})
	}
	return out
}
