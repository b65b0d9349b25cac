package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RestoreAndContinue_MatchesUninterruptedRun(t *testing.T) {
	// GIVEN an uninterrupted stochastic run
	whole := newTestSimulator(t, stochasticConfig(5))
	require.NoError(t, whole.Run(nil))

	// AND a second run snapshotted mid-way through day 0 and serialized
	first := newTestSimulator(t, stochasticConfig(5))
	advanceN(t, first, 7)
	snap, err := first.Snapshot()
	require.NoError(t, err)
	data, err := snap.Marshal()
	require.NoError(t, err)

	// WHEN the snapshot is restored and run to completion
	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	resumed, err := Restore(stochasticConfig(5), decoded)
	require.NoError(t, err)
	assert.Equal(t, int64(7), resumed.CurrentTick())
	require.NoError(t, resumed.Run(nil))

	// THEN the resumed run is indistinguishable from the uninterrupted one
	assert.Equal(t, whole.AllEvents(), resumed.AllEvents())
	want, err := whole.StateDigest()
	require.NoError(t, err)
	got, err := resumed.StateDigest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestore_DifferentConfig_Rejected(t *testing.T) {
	sim := newTestSimulator(t, stochasticConfig(5))
	advanceN(t, sim, 2)
	snap, err := sim.Snapshot()
	require.NoError(t, err)

	_, err = Restore(stochasticConfig(6), snap)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest")
}

func TestSnapshot_IsIsolatedFromLaterTicks(t *testing.T) {
	// GIVEN a snapshot taken at tick 3
	sim := newTestSimulator(t, stochasticConfig(9))
	advanceN(t, sim, 3)
	snap, err := sim.Snapshot()
	require.NoError(t, err)
	events := len(snap.Events)

	// WHEN the original keeps running
	advanceN(t, sim, 3)

	// THEN the snapshot still describes tick 3
	restored, err := Restore(stochasticConfig(9), snap)
	require.NoError(t, err)
	assert.Equal(t, int64(3), restored.CurrentTick())
	assert.Len(t, restored.AllEvents(), events)
}
