package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rtgs-sim/rtgs-sim/sim"
	"github.com/rtgs-sim/rtgs-sim/sim/eventlog"
	"github.com/rtgs-sim/rtgs-sim/sim/metrics"
	"github.com/rtgs-sim/rtgs-sim/sim/store"
)

// runOptions carries the run command's flags.
type runOptions struct {
	configPath    string
	ticks         int64  // 0 runs to the end
	seed          *int64 // overrides rng_seed when set
	dbPath        string
	resumeRunID   string
	eventsOut     string
	metricsFile   string
	reportOut     string
	snapshotEvery int64
}

func newRunCmd() *cobra.Command {
	var (
		opts runOptions
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation from a scenario configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("seed") {
				opts.seed = &seed
			}
			return runSimulation(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Scenario configuration file (YAML)")
	cmd.Flags().Int64Var(&opts.ticks, "ticks", 0, "Number of ticks to run (0 runs every remaining tick)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Override the configured RNG seed")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database to record the run in")
	cmd.Flags().StringVar(&opts.resumeRunID, "resume", "", "Resume a stored run from its latest snapshot (requires --db)")
	cmd.Flags().StringVar(&opts.eventsOut, "events-out", "", "Write the event log to this file (.jsonl for JSON lines, text otherwise)")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")
	cmd.Flags().StringVar(&opts.reportOut, "report-out", "", "Write the run report as JSON to this file")
	cmd.Flags().Int64Var(&opts.snapshotEvery, "snapshot-every", 0, "Store a snapshot every N ticks (requires --db)")
	return cmd
}

// runSimulation builds or resumes a simulator, advances it and writes
// every requested output.
func runSimulation(ctx context.Context, opts runOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.dbPath == "" && (opts.resumeRunID != "" || opts.snapshotEvery > 0) {
		return fmt.Errorf("--resume and --snapshot-every require --db")
	}
	if opts.resumeRunID == "" && opts.configPath == "" {
		return fmt.Errorf("--config is required")
	}

	var db *store.DB
	if opts.dbPath != "" {
		var err error
		if db, err = store.Open(opts.dbPath); err != nil {
			return err
		}
		defer db.Close()
	}

	s, runID, err := prepareRun(ctx, opts, db)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(prometheus.Labels{"run_id": runID})
	cfg := s.Config()
	target := cfg.TotalTicks()
	if opts.ticks > 0 {
		target = min(target, s.CurrentTick()+opts.ticks)
	}
	logrus.Infof("Starting run %s at tick %d, stopping at tick %d", runID, s.CurrentTick(), target)
	startTime := time.Now()

	for s.CurrentTick() < target {
		res, err := s.Advance()
		if err != nil {
			return err
		}
		if err := collector.ObserveTick(res, s); err != nil {
			return err
		}
		if db != nil {
			if err := db.SaveEvents(ctx, runID, res.Events); err != nil {
				return err
			}
			if opts.snapshotEvery > 0 && s.CurrentTick()%opts.snapshotEvery == 0 {
				snap, err := s.Snapshot()
				if err != nil {
					return err
				}
				if err := db.SaveSnapshot(ctx, runID, snap); err != nil {
					return err
				}
				logrus.Debugf("[tick %07d] snapshot stored", res.Tick)
			}
		}
		if res.EndOfDay {
			logrus.Infof("Day %d complete", res.Day)
		}
	}
	if db != nil {
		if err := db.UpdateRunTicks(ctx, runID, s.CurrentTick()); err != nil {
			return err
		}
	}

	if err := writeOutputs(opts, s, collector); err != nil {
		return err
	}
	report := s.Report()
	printReport(out, runID, report)
	logrus.Infof("Simulation complete in %s.", time.Since(startTime).Round(time.Millisecond))
	return nil
}

// prepareRun returns a fresh simulator, or a restored one when resuming.
func prepareRun(ctx context.Context, opts runOptions, db *store.DB) (*sim.Simulator, string, error) {
	if opts.resumeRunID != "" {
		run, err := db.GetRun(ctx, opts.resumeRunID)
		if err != nil {
			return nil, "", err
		}
		cfg, err := run.Config()
		if err != nil {
			return nil, "", err
		}
		snap, err := db.LatestSnapshot(ctx, run.ID)
		if err != nil {
			return nil, "", err
		}
		s, err := sim.Restore(cfg, snap)
		if err != nil {
			return nil, "", err
		}
		if err := db.TruncateEvents(ctx, run.ID, snap.Tick); err != nil {
			return nil, "", err
		}
		logrus.Infof("Resuming run %s from tick %d", run.ID, snap.Tick)
		return s, run.ID, nil
	}

	cfg, err := sim.LoadConfig(opts.configPath)
	if err != nil {
		return nil, "", err
	}
	if opts.seed != nil {
		cfg.Seed = *opts.seed
	}
	s, err := sim.NewSimulator(cfg)
	if err != nil {
		return nil, "", err
	}
	runID := store.NewRunID()
	if db != nil {
		run, err := store.NewRun(runID, cfg)
		if err != nil {
			return nil, "", err
		}
		if err := db.CreateRun(ctx, run); err != nil {
			return nil, "", err
		}
	}
	return s, runID, nil
}

func writeOutputs(opts runOptions, s *sim.Simulator, collector *metrics.Collector) error {
	if opts.eventsOut != "" {
		if err := writeEvents(opts.eventsOut, s.AllEvents()); err != nil {
			return err
		}
	}
	if opts.metricsFile != "" {
		if err := collector.WriteTextfile(opts.metricsFile); err != nil {
			return err
		}
	}
	if opts.reportOut != "" {
		if err := s.Report().SaveReport(opts.reportOut); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	return nil
}

func writeEvents(path string, events []eventlog.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	write := eventlog.WriteText
	if filepath.Ext(path) == ".jsonl" {
		write = eventlog.WriteJSONL
	}
	if err := write(f, events); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
