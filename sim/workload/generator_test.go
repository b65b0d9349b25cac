package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func testArrivalConfig() ArrivalConfig {
	return ArrivalConfig{
		RatePerTick: 3,
		Amount:      DistSpec{Type: "uniform", Params: map[string]float64{"min": 1000, "max": 5000}},
		Priority:    PrioritySpec{Type: "uniform", Min: intPtr(0), Max: intPtr(10)},
		Counterparties: []CounterpartyWeight{
			{Agent: "B", Weight: 1},
			{Agent: "C", Weight: 3},
		},
		Deadline: DeadlineRange{Min: 5, Max: 20},
	}
}

func TestGenerator_SameStream_SameArrivals(t *testing.T) {
	// GIVEN two generators over identically seeded streams
	g, err := NewGenerator(testArrivalConfig())
	require.NoError(t, err)
	rngA, rngB := newTestRNG(99), newTestRNG(99)

	// WHEN both generate fifty ticks
	for tick := int64(0); tick < 50; tick++ {
		a := g.Generate(rngA, tick, 1000, 1)
		b := g.Generate(rngB, tick, 1000, 1)
		// THEN every tick's arrivals are identical
		require.Equal(t, a, b, "tick %d", tick)
	}
}

func TestGenerator_FieldsWithinConfiguredBounds(t *testing.T) {
	g, err := NewGenerator(testArrivalConfig())
	require.NoError(t, err)
	rng := newTestRNG(5)

	total := 0
	toC := 0
	for tick := int64(0); tick < 500; tick++ {
		for _, a := range g.Generate(rng, tick, 10000, 1) {
			total++
			if a.Receiver == "C" {
				toC++
			}
			assert.GreaterOrEqual(t, a.Amount, int64(1000))
			assert.LessOrEqual(t, a.Amount, int64(5000))
			assert.GreaterOrEqual(t, a.Priority, 0)
			assert.LessOrEqual(t, a.Priority, 10)
			assert.GreaterOrEqual(t, a.Deadline, tick+5)
			assert.LessOrEqual(t, a.Deadline, tick+20)
		}
	}
	require.Greater(t, total, 0)
	share := float64(toC) / float64(total)
	assert.InDelta(t, 0.75, share, 0.05, "counterparty weights 1:3")
}

func TestGenerator_DeadlineCappedAtLastTick(t *testing.T) {
	cfg := testArrivalConfig()
	cfg.RatePerTick = 20
	g, err := NewGenerator(cfg)
	require.NoError(t, err)

	arrivals := g.Generate(newTestRNG(1), 95, 99, 1)
	require.NotEmpty(t, arrivals)
	for _, a := range arrivals {
		assert.LessOrEqual(t, a.Deadline, int64(99))
	}
}

func TestGenerator_ZeroMultiplier_NoArrivals(t *testing.T) {
	g, err := NewGenerator(testArrivalConfig())
	require.NoError(t, err)
	assert.Empty(t, g.Generate(newTestRNG(1), 0, 100, 0))
}
