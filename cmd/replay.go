package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rtgs-sim/rtgs-sim/sim"
	"github.com/rtgs-sim/rtgs-sim/sim/store"
)

type replayOptions struct {
	dbPath     string
	runID      string
	configPath string // overrides the stored configuration
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a stored run's final state from its event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayRun(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database holding the run")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run to replay")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Scenario configuration to replay against (defaults to the stored one)")
	markRequired(cmd, "db", "run-id")
	return cmd
}

func replayRun(ctx context.Context, opts replayOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := store.Open(opts.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.GetRun(ctx, opts.runID)
	if err != nil {
		return err
	}
	var cfg *sim.Config
	if opts.configPath != "" {
		cfg, err = sim.LoadConfig(opts.configPath)
	} else {
		cfg, err = run.Config()
	}
	if err != nil {
		return err
	}
	if digest, err := cfg.Digest(); err == nil && digest != run.ConfigDigest {
		logrus.Warnf("Replaying run %s against a configuration with digest %s, recorded %s", run.ID, digest, run.ConfigDigest)
	}

	events, err := db.LoadEvents(ctx, run.ID)
	if err != nil {
		return err
	}
	s, err := sim.Replay(cfg, events)
	if err != nil {
		return err
	}
	digest, err := s.StateDigest()
	if err != nil {
		return err
	}
	printReport(out, run.ID, s.Report())
	fmt.Fprintf(out, "State digest:      %s\n", digest)
	return nil
}
