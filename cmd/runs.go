package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rtgs-sim/rtgs-sim/sim/store"
)

func newRunsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd.Context(), dbPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database to read")
	markRequired(cmd, "db")
	return cmd
}

func listRuns(ctx context.Context, dbPath string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSEED\tTICKS\tCREATED\tCONFIG")
	for _, r := range runs {
		created := r.CreatedAt
		if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
			created = humanize.Time(t)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d/%d\t%s\t%.12s\n", r.ID, r.Seed, r.TicksRun, r.TotalTicks, created, r.ConfigDigest)
	}
	return tw.Flush()
}
