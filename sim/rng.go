package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical event logs.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemArrivals is the RNG subsystem for stochastic transaction arrivals.
	// Uses the master seed directly.
	SubsystemArrivals = "arrivals"
)

// pcgStream is the second PCG word; fixed so a seed alone determines the stream.
const pcgStream = 0x9e3779b97f4a7c15

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemArrivals: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Every stream is a PCG source whose state can be exported and restored,
// which is what lets a snapshot resume a run mid-episode.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key     SimulationKey
	sources map[string]*rand.PCG
	streams map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:     key,
		sources: make(map[string]*rand.PCG),
		streams: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	src := rand.NewPCG(p.deriveSeed(name), pcgStream)
	rng := rand.New(src)
	p.sources[name] = src
	p.streams[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// State exports the state of every stream created so far.
func (p *PartitionedRNG) State() (map[string][]byte, error) {
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := p.sources[name].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("rng subsystem %q: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// Restore replaces stream states with previously exported ones.
// Streams absent from state keep (or lazily get) their seed-derived start.
func (p *PartitionedRNG) Restore(state map[string][]byte) error {
	for name, data := range state {
		p.ForSubsystem(name)
		if err := p.sources[name].UnmarshalBinary(data); err != nil {
			return fmt.Errorf("rng subsystem %q: %w", name, err)
		}
	}
	return nil
}

func (p *PartitionedRNG) deriveSeed(name string) uint64 {
	if name == SubsystemArrivals {
		return uint64(p.key)
	}
	return uint64(p.key) ^ fnv1a64(name)
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
