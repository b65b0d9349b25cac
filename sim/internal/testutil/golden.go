// Package testutil provides shared test infrastructure for the settlement
// simulator: the golden scenario dataset and assertion helpers used
// across sim/ and cmd/ test packages.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenDataset represents the structure of testdata/goldendataset.json.
type GoldenDataset struct {
	Tests []GoldenTestCase `json:"tests"`
}

// GoldenTestCase is one scenario file and the outcome it must produce.
type GoldenTestCase struct {
	Name     string        `json:"name"`
	Scenario string        `json:"scenario"`
	Metrics  GoldenMetrics `json:"metrics"`
}

// GoldenMetrics are the expected end-of-run figures for a scenario.
type GoldenMetrics struct {
	// Exact match counts
	Arrivals         int `json:"arrivals"`
	RtgsSettlements  int `json:"rtgs_settlements"`
	QueueSettlements int `json:"queue_settlements"`
	BilateralOffsets int `json:"bilateral_offsets"`
	CyclesSettled    int `json:"cycles_settled"`
	Overdue          int `json:"overdue"`

	// Exact match money, minor units
	SettledValue int64 `json:"settled_value"`
	TotalCost    int64 `json:"total_cost"`

	// Settled value over arrival value
	SettlementRate float64 `json:"settlement_rate"`
}

// testdataDir resolves the repo root testdata/ directory relative to this
// source file: sim/internal/testutil/ → testdata/.
func testdataDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata")
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()
	path := filepath.Join(testdataDir(t), "goldendataset.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}

	return &dataset
}

// ScenarioPath returns the path of a scenario file under testdata/scenarios.
func ScenarioPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(testdataDir(t), "scenarios", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Scenario %s: %v", name, err)
	}
	return path
}

// WriteFile writes content to name under a fresh temp directory and
// returns the full path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
