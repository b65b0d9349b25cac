package sim

import (
	"encoding/json"
	"fmt"

	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
)

// Snapshot captures a simulator between ticks: state, RNG stream
// positions and the event log. Restoring it against the same
// configuration and advancing continues the run exactly as if it had
// never stopped.
type Snapshot struct {
	ConfigDigest string            `json:"config_digest"`
	Tick         int64             `json:"tick"`
	State        json.RawMessage   `json:"state"`
	RNG          map[string][]byte `json:"rng"`
	Events       []eventlog.Event  `json:"events"`
}

// Snapshot captures the current state.
func (sim *Simulator) Snapshot() (*Snapshot, error) {
	if sim.failed != nil {
		return nil, fmt.Errorf("snapshot of failed simulator: %w", sim.failed)
	}
	state, err := json.Marshal(sim.state)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	rng, err := sim.rng.State()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ConfigDigest: sim.digest,
		Tick:         sim.state.Tick,
		State:        state,
		RNG:          rng,
		Events:       sim.log.All(),
	}, nil
}

// Marshal encodes the snapshot as JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot produced by Marshal.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

// Restore rebuilds a simulator from a snapshot. cfg must be the
// configuration the snapshot was taken under.
func Restore(cfg *Config, snap *Snapshot) (*Simulator, error) {
	sim, err := NewSimulator(cfg)
	if err != nil {
		return nil, err
	}
	if snap.ConfigDigest != sim.digest {
		return nil, fmt.Errorf("snapshot config digest %s does not match %s", snap.ConfigDigest, sim.digest)
	}
	var st SimulationState
	if err := json.Unmarshal(snap.State, &st); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	if st.Tick != snap.Tick {
		return nil, fmt.Errorf("snapshot tick %d does not match state tick %d", snap.Tick, st.Tick)
	}
	st.rebuildIndexes()
	sim.state = &st
	if err := sim.rng.Restore(snap.RNG); err != nil {
		return nil, err
	}
	for _, ev := range snap.Events {
		if err := sim.log.Restore(ev); err != nil {
			return nil, err
		}
	}
	return sim, nil
}
