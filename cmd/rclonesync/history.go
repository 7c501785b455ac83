package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/rclonesync/internal/identity"
	"github.com/Ning0612/rclonesync/internal/output"
	"github.com/Ning0612/rclonesync/internal/state"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [<source> <destination>]",
		Short: "List recent runs of one pair, or of every pair",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			cfg, err := a.setup(cmd, args, len(args) == 0)
			if err != nil {
				return err
			}

			store, err := state.Open(cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			var runs []state.RunRecord
			if len(args) == 2 {
				runs, err = store.History(identity.StableID(identity.NewHasher(), cfg.Source, cfg.Destination), limit)
			} else {
				runs, err = store.AllHistory(limit)
			}
			if err != nil {
				return err
			}

			return printHistory(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}

func printHistory(w io.Writer, runs []state.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN\tSTATUS\tEXIT\tDURATION\tSOURCE\tDESTINATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			humanize.Time(r.StartTime),
			shortID(r.RunID),
			r.Status,
			r.ExitCode,
			output.FormatDuration(r.Duration()),
			r.Source,
			r.Destination,
		)
	}
	return tw.Flush()
}
