package workload

import (
	"math"
	"math/rand/v2"
)

// poissonNormalCutoff is the rate above which the count is drawn from the
// normal approximation instead of Knuth's product method.
const poissonNormalCutoff = 30.0

// SamplePoisson draws an event count from Poisson(lambda).
func SamplePoisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 || math.IsNaN(lambda) {
		return 0
	}
	if lambda > poissonNormalCutoff {
		n := math.Round(lambda + math.Sqrt(lambda)*rng.NormFloat64())
		if n < 0 {
			return 0
		}
		return int(n)
	}
	limit := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}
