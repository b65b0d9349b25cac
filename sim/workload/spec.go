package workload

import (
	"fmt"
	"math"
	"sort"
)

// ArrivalConfig defines one agent's stochastic payment arrivals.
type ArrivalConfig struct {
	RatePerTick    float64              `yaml:"rate_per_tick" json:"rate_per_tick"`
	Amount         DistSpec             `yaml:"amount_distribution" json:"amount_distribution"`
	Priority       PrioritySpec         `yaml:"priority_distribution" json:"priority_distribution"`
	Counterparties []CounterpartyWeight `yaml:"counterparties" json:"counterparties"`
	Deadline       DeadlineRange        `yaml:"deadline_range" json:"deadline_range"`
	Divisible      bool                 `yaml:"divisible" json:"divisible"`
}

// DistSpec parameterizes a payment amount distribution.
type DistSpec struct {
	Type   string             `yaml:"type" json:"type"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

// PrioritySpec parameterizes the priority assigned to new payments.
// Which fields apply depends on Type; setting a field another type uses
// is a validation error.
type PrioritySpec struct {
	Type    string    `yaml:"type" json:"type"`
	Value   *int      `yaml:"value,omitempty" json:"value,omitempty"`
	Values  []int     `yaml:"values,omitempty" json:"values,omitempty"`
	Weights []float64 `yaml:"weights,omitempty" json:"weights,omitempty"`
	Min     *int      `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *int      `yaml:"max,omitempty" json:"max,omitempty"`
}

// CounterpartyWeight is one entry of the receiver distribution. The list
// form keeps draw order independent of map iteration.
type CounterpartyWeight struct {
	Agent  string  `yaml:"agent" json:"agent"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// DeadlineRange bounds the deadline offset in ticks after arrival.
type DeadlineRange struct {
	Min int64 `yaml:"min" json:"min"`
	Max int64 `yaml:"max" json:"max"`
}

// MaxPriority is the highest payment priority.
const MaxPriority = 10

// Valid value registries.
var (
	validDistTypes = map[string][]string{
		"uniform":     {"min", "max"},
		"normal":      {"mean", "std_dev"},
		"log_normal":  {"mean", "std_dev"},
		"exponential": {"mean"},
		"constant":    {"value"},
	}
	validPriorityTypes = map[string]bool{
		"fixed": true, "categorical": true, "uniform": true,
	}
)

// ValidDistTypes returns the sorted amount distribution names.
func ValidDistTypes() []string {
	names := make([]string, 0, len(validDistTypes))
	for name := range validDistTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the arrival configuration of agent self against the
// set of known agent ids.
func (c *ArrivalConfig) Validate(self string, agents map[string]bool) error {
	if err := validateFiniteNonNegative("rate_per_tick", c.RatePerTick); err != nil {
		return err
	}
	if err := c.Amount.validate(); err != nil {
		return fmt.Errorf("amount_distribution: %w", err)
	}
	if err := c.Priority.validate(); err != nil {
		return fmt.Errorf("priority_distribution: %w", err)
	}
	if len(c.Counterparties) == 0 {
		return fmt.Errorf("counterparties: at least one counterparty is required")
	}
	seen := make(map[string]bool, len(c.Counterparties))
	total := 0.0
	for i, cp := range c.Counterparties {
		prefix := fmt.Sprintf("counterparties[%d]", i)
		if cp.Agent == self {
			return fmt.Errorf("%s: agent %q cannot pay itself", prefix, cp.Agent)
		}
		if !agents[cp.Agent] {
			return fmt.Errorf("%s: unknown agent %q", prefix, cp.Agent)
		}
		if seen[cp.Agent] {
			return fmt.Errorf("%s: duplicate agent %q", prefix, cp.Agent)
		}
		seen[cp.Agent] = true
		if err := validateFiniteNonNegative(prefix+".weight", cp.Weight); err != nil {
			return err
		}
		total += cp.Weight
	}
	if total <= 0 {
		return fmt.Errorf("counterparties: weights must sum to a positive value")
	}
	if c.Deadline.Min < 1 {
		return fmt.Errorf("deadline_range.min must be >= 1, got %d", c.Deadline.Min)
	}
	if c.Deadline.Max < c.Deadline.Min {
		return fmt.Errorf("deadline_range.max (%d) must be >= min (%d)", c.Deadline.Max, c.Deadline.Min)
	}
	return nil
}

func (d *DistSpec) validate() error {
	required, ok := validDistTypes[d.Type]
	if !ok {
		return fmt.Errorf("unknown distribution type %q; valid types: %v", d.Type, ValidDistTypes())
	}
	allowed := make(map[string]bool, len(required))
	for _, k := range required {
		allowed[k] = true
	}
	keys := make([]string, 0, len(d.Params))
	for k := range d.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := d.Params[k]
		if !allowed[k] {
			return fmt.Errorf("parameter %q is not used by %s distribution", k, d.Type)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter %q must be finite, got %f", k, v)
		}
	}
	if err := requireParam(d.Params, required...); err != nil {
		return err
	}
	p := d.Params
	switch d.Type {
	case "uniform":
		for _, k := range []string{"min", "max"} {
			if _, err := integralParam(p, k); err != nil {
				return err
			}
		}
		if p["min"] < 1 {
			return fmt.Errorf("min must be >= 1, got %v", p["min"])
		}
		if p["max"] < p["min"] {
			return fmt.Errorf("max (%v) must be >= min (%v)", p["max"], p["min"])
		}
	case "normal", "log_normal":
		if p["std_dev"] < 0 {
			return fmt.Errorf("std_dev must be >= 0, got %v", p["std_dev"])
		}
		if d.Type == "normal" && p["mean"] <= 0 {
			return fmt.Errorf("mean must be positive, got %v", p["mean"])
		}
	case "exponential":
		if p["mean"] <= 0 {
			return fmt.Errorf("mean must be positive, got %v", p["mean"])
		}
	case "constant":
		if _, err := integralParam(p, "value"); err != nil {
			return err
		}
		if p["value"] < 1 {
			return fmt.Errorf("value must be >= 1, got %v", p["value"])
		}
	}
	return nil
}

func (p *PrioritySpec) validate() error {
	if !validPriorityTypes[p.Type] {
		return fmt.Errorf("unknown priority distribution type %q", p.Type)
	}
	unused := func(fields ...setField) error {
		for _, f := range fields {
			if f.set {
				return fmt.Errorf("field %q is not used by %s priority distribution", f.name, p.Type)
			}
		}
		return nil
	}
	inRange := func(field string, v int) error {
		if v < 0 || v > MaxPriority {
			return fmt.Errorf("%s must be in [0, %d], got %d", field, MaxPriority, v)
		}
		return nil
	}
	switch p.Type {
	case "fixed":
		if err := unused(setField{"values", p.Values != nil}, setField{"weights", p.Weights != nil},
			setField{"min", p.Min != nil}, setField{"max", p.Max != nil}); err != nil {
			return err
		}
		if p.Value == nil {
			return fmt.Errorf("fixed priority requires %q", "value")
		}
		return inRange("value", *p.Value)
	case "categorical":
		if err := unused(setField{"value", p.Value != nil}, setField{"min", p.Min != nil}, setField{"max", p.Max != nil}); err != nil {
			return err
		}
		if len(p.Values) == 0 || len(p.Values) != len(p.Weights) {
			return fmt.Errorf("categorical priority requires equal-length non-empty values and weights")
		}
		total := 0.0
		for i, v := range p.Values {
			if err := inRange(fmt.Sprintf("values[%d]", i), v); err != nil {
				return err
			}
			if err := validateFiniteNonNegative(fmt.Sprintf("weights[%d]", i), p.Weights[i]); err != nil {
				return err
			}
			total += p.Weights[i]
		}
		if total <= 0 {
			return fmt.Errorf("weights must sum to a positive value")
		}
	case "uniform":
		if err := unused(setField{"value", p.Value != nil}, setField{"values", p.Values != nil}, setField{"weights", p.Weights != nil}); err != nil {
			return err
		}
		if p.Min == nil || p.Max == nil {
			return fmt.Errorf("uniform priority requires %q and %q", "min", "max")
		}
		if err := inRange("min", *p.Min); err != nil {
			return err
		}
		if err := inRange("max", *p.Max); err != nil {
			return err
		}
		if *p.Max < *p.Min {
			return fmt.Errorf("max (%d) must be >= min (%d)", *p.Max, *p.Min)
		}
	}
	return nil
}

type setField struct {
	name string
	set  bool
}

// validateFiniteNonNegative checks that a float64 field is finite and non-negative.
func validateFiniteNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 {
		return fmt.Errorf("%s must be non-negative, got %f", name, val)
	}
	return nil
}
