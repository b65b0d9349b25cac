package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtgs-sim/rtgs-sim/sim"
	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/store"
)

const ringScenario = "../testdata/scenarios/gridlock_ring.yaml"

// finalDigest runs a scenario uninterrupted and returns its state digest.
func finalDigest(t *testing.T, path string) string {
	t.Helper()
	cfg, err := sim.LoadConfig(path)
	require.NoError(t, err)
	s, err := sim.NewSimulator(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Run(nil))
	digest, err := s.StateDigest()
	require.NoError(t, err)
	return digest
}

func onlyRunID(t *testing.T, dbPath string) string {
	t.Helper()
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0].ID
}

func TestRunSimulation_WritesEveryOutput(t *testing.T) {
	// GIVEN the gridlock ring scenario and every output flag
	dir := t.TempDir()
	opts := runOptions{
		configPath:  ringScenario,
		dbPath:      filepath.Join(dir, "runs.db"),
		eventsOut:   filepath.Join(dir, "events.jsonl"),
		metricsFile: filepath.Join(dir, "metrics.prom"),
		reportOut:   filepath.Join(dir, "report.json"),
	}
	var out bytes.Buffer

	// WHEN the run completes
	require.NoError(t, runSimulation(context.Background(), opts, &out))

	// THEN the printed report shows the cycle settlement
	assert.Contains(t, out.String(), "=== Simulation Report ===")
	assert.Contains(t, out.String(), "cycles 1")
	assert.Contains(t, out.String(), "3,000")

	// AND the JSONL event log decodes and records the cycle
	f, err := os.Open(opts.eventsOut)
	require.NoError(t, err)
	defer f.Close()
	events, err := eventlog.ReadJSONL(f)
	require.NoError(t, err)
	assert.Equal(t, 1, eventlog.Summarize(events).CyclesSettled)

	// AND the metrics textfile carries the run id label
	prom, err := os.ReadFile(opts.metricsFile)
	require.NoError(t, err)
	runID := onlyRunID(t, opts.dbPath)
	assert.Contains(t, string(prom), `rtgs_ticks_total{run_id="`+runID+`"} 4`)

	// AND the JSON report is written
	data, err := os.ReadFile(opts.reportOut)
	require.NoError(t, err)
	var report sim.RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, int64(3_000), report.SettledValue)
}

func TestRunSimulation_TextEventLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	opts := runOptions{configPath: ringScenario, eventsOut: path}

	require.NoError(t, runSimulation(context.Background(), opts, &bytes.Buffer{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Greater(t, len(lines), 3)
	assert.False(t, strings.HasPrefix(lines[0], "{"), "text log must not be JSON")
}

func TestRunSimulation_ReplayMatchesLiveRun(t *testing.T) {
	// GIVEN a run recorded in a database
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	require.NoError(t, runSimulation(context.Background(),
		runOptions{configPath: ringScenario, dbPath: dbPath}, &bytes.Buffer{}))
	runID := onlyRunID(t, dbPath)

	// WHEN it is replayed from its stored events and configuration
	var out bytes.Buffer
	err := replayRun(context.Background(), replayOptions{dbPath: dbPath, runID: runID}, &out)

	// THEN the replayed state matches an uninterrupted run
	require.NoError(t, err)
	assert.Contains(t, out.String(), "State digest:      "+finalDigest(t, ringScenario))
}

func TestRunSimulation_ResumeFromSnapshot(t *testing.T) {
	// GIVEN a run stopped after 2 of 4 ticks with a snapshot every tick
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	require.NoError(t, runSimulation(context.Background(), runOptions{
		configPath: ringScenario, dbPath: dbPath, ticks: 2, snapshotEvery: 1,
	}, &bytes.Buffer{}))
	runID := onlyRunID(t, dbPath)

	// WHEN it is resumed to the end
	require.NoError(t, runSimulation(context.Background(),
		runOptions{dbPath: dbPath, resumeRunID: runID}, &bytes.Buffer{}))

	// THEN the stored run is complete and replays to the uninterrupted state
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	run, err := db.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), run.TicksRun)
	require.NoError(t, db.Close())

	var out bytes.Buffer
	require.NoError(t, replayRun(context.Background(), replayOptions{dbPath: dbPath, runID: runID}, &out))
	assert.Contains(t, out.String(), finalDigest(t, ringScenario))
}

func TestRunSimulation_SeedOverrideIsStored(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	seed := int64(777)

	require.NoError(t, runSimulation(context.Background(),
		runOptions{configPath: ringScenario, dbPath: dbPath, seed: &seed}, &bytes.Buffer{}))

	var out bytes.Buffer
	require.NoError(t, listRuns(context.Background(), dbPath, &out))
	assert.Contains(t, out.String(), "777")
	assert.Contains(t, out.String(), "4/4")
}

func TestRunSimulation_FlagErrors(t *testing.T) {
	tests := []struct {
		name string
		opts runOptions
		want string
	}{
		{"no config", runOptions{}, "--config is required"},
		{"snapshots without db", runOptions{configPath: ringScenario, snapshotEvery: 1}, "require --db"},
		{"resume without db", runOptions{resumeRunID: "x"}, "require --db"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := runSimulation(context.Background(), tc.opts, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestListRuns_EmptyDatabase(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, listRuns(context.Background(), filepath.Join(t.TempDir(), "runs.db"), &out))
	assert.Equal(t, "no runs recorded\n", out.String())
}
