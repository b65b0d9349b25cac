package workload

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// AmountSampler generates payment amounts in minor units.
type AmountSampler interface {
	// Sample returns a positive amount (>= 1).
	Sample(rng *rand.Rand) int64
}

// UniformSampler draws integer amounts uniformly from [min, max].
type UniformSampler struct {
	min, max int64
}

func (s *UniformSampler) Sample(rng *rand.Rand) int64 {
	if s.max <= s.min {
		return s.min
	}
	return s.min + rng.Int64N(s.max-s.min+1)
}

// NormalSampler produces rounded Gaussian amounts.
type NormalSampler struct {
	mean, stdDev float64
}

func (s *NormalSampler) Sample(rng *rand.Rand) int64 {
	return clampAmount(rng.NormFloat64()*s.stdDev + s.mean)
}

// LogNormalSampler produces exp(N(mean, std_dev)) amounts; the parameters
// describe ln(amount).
type LogNormalSampler struct {
	mu, sigma float64
}

func (s *LogNormalSampler) Sample(rng *rand.Rand) int64 {
	return clampAmount(math.Exp(s.mu + s.sigma*rng.NormFloat64()))
}

// ExponentialSampler produces exponentially-distributed amounts.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) int64 {
	return clampAmount(rng.ExpFloat64() * s.mean)
}

// ConstantSampler always returns the same fixed amount.
type ConstantSampler struct {
	value int64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) int64 {
	if s.value < 1 {
		return 1
	}
	return s.value
}

// clampAmount rounds a draw to minor units, never below 1.
func clampAmount(val float64) int64 {
	// Guard against +Inf from extreme sigma values
	if math.IsNaN(val) || val < 1 {
		return 1
	}
	if val >= math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(math.Round(val))
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// integralParam returns a parameter that must be a whole number of minor
// units.
func integralParam(params map[string]float64, key string) (int64, error) {
	v := params[key]
	if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt64/2 {
		return 0, fmt.Errorf("parameter %q must be a whole number of minor units, got %v", key, v)
	}
	return int64(v), nil
}

// NewAmountSampler creates an AmountSampler from a DistSpec.
func NewAmountSampler(spec DistSpec) (AmountSampler, error) {
	switch spec.Type {
	case "uniform":
		if err := requireParam(spec.Params, "min", "max"); err != nil {
			return nil, err
		}
		lo, err := integralParam(spec.Params, "min")
		if err != nil {
			return nil, err
		}
		hi, err := integralParam(spec.Params, "max")
		if err != nil {
			return nil, err
		}
		return &UniformSampler{min: lo, max: hi}, nil

	case "normal":
		if err := requireParam(spec.Params, "mean", "std_dev"); err != nil {
			return nil, err
		}
		return &NormalSampler{mean: spec.Params["mean"], stdDev: spec.Params["std_dev"]}, nil

	case "log_normal":
		if err := requireParam(spec.Params, "mean", "std_dev"); err != nil {
			return nil, err
		}
		return &LogNormalSampler{mu: spec.Params["mean"], sigma: spec.Params["std_dev"]}, nil

	case "exponential":
		if err := requireParam(spec.Params, "mean"); err != nil {
			return nil, err
		}
		return &ExponentialSampler{mean: spec.Params["mean"]}, nil

	case "constant":
		if err := requireParam(spec.Params, "value"); err != nil {
			return nil, err
		}
		v, err := integralParam(spec.Params, "value")
		if err != nil {
			return nil, err
		}
		return &ConstantSampler{value: v}, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}

// PrioritySampler draws a payment priority in [0, MaxPriority].
type PrioritySampler interface {
	Sample(rng *rand.Rand) int
}

type fixedPriority struct{ value int }

func (s *fixedPriority) Sample(_ *rand.Rand) int { return s.value }

type uniformPriority struct{ min, max int }

func (s *uniformPriority) Sample(rng *rand.Rand) int {
	if s.max <= s.min {
		return s.min
	}
	return s.min + rng.IntN(s.max-s.min+1)
}

type categoricalPriority struct {
	values []int
	cdf    []float64
}

func (s *categoricalPriority) Sample(rng *rand.Rand) int {
	return s.values[pickIndex(s.cdf, rng.Float64())]
}

// NewPrioritySampler creates a PrioritySampler from a PrioritySpec.
// The priority config must already be validated.
func NewPrioritySampler(spec PrioritySpec) (PrioritySampler, error) {
	switch spec.Type {
	case "fixed":
		if spec.Value == nil {
			return nil, fmt.Errorf("fixed priority requires %q", "value")
		}
		return &fixedPriority{value: *spec.Value}, nil
	case "uniform":
		if spec.Min == nil || spec.Max == nil {
			return nil, fmt.Errorf("uniform priority requires %q and %q", "min", "max")
		}
		return &uniformPriority{min: *spec.Min, max: *spec.Max}, nil
	case "categorical":
		if len(spec.Values) == 0 || len(spec.Values) != len(spec.Weights) {
			return nil, fmt.Errorf("categorical priority requires equal-length non-empty values and weights")
		}
		return &categoricalPriority{values: spec.Values, cdf: cumulative(spec.Weights)}, nil
	default:
		return nil, fmt.Errorf("unknown priority distribution type %q", spec.Type)
	}
}

// cumulative normalizes weights into a CDF whose last entry is exactly 1.
func cumulative(weights []float64) []float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	cdf := make([]float64, len(weights))
	acc := 0.0
	for i, w := range weights {
		acc += w / total
		cdf[i] = acc
	}
	if len(cdf) > 0 {
		cdf[len(cdf)-1] = 1.0
	}
	return cdf
}

// pickIndex returns the first index whose CDF value exceeds u, skipping
// zero-weight entries.
func pickIndex(cdf []float64, u float64) int {
	for i, c := range cdf {
		if u < c {
			return i
		}
	}
	return len(cdf) - 1
}
