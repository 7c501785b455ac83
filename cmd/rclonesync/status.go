package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/rclonesync/internal/config"
	"github.com/Ning0612/rclonesync/internal/identity"
	"github.com/Ning0612/rclonesync/internal/lock"
	"github.com/Ning0612/rclonesync/internal/output"
	"github.com/Ning0612/rclonesync/internal/state"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <source> <destination>",
		Short: "Show whether a pair is syncing and when it last succeeded",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.setup(cmd, args, false)
			if err != nil {
				return err
			}
			return a.printStatus(cmd.OutOrStdout(), cfg)
		},
	}
}

func (a *app) printStatus(w io.Writer, cfg *config.Config) error {
	stableID := identity.StableID(identity.NewHasher(), cfg.Source, cfg.Destination)
	lockPath := lock.PathFor(a.lockDir, stableID)

	status, err := lock.Probe(lockPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Pair:         %s -> %s\n", cfg.Source, cfg.Destination)
	fmt.Fprintf(w, "Stable ID:    %s\n", stableID)
	fmt.Fprintf(w, "Lock file:    %s\n", lockPath)

	switch {
	case !status.Locked:
		fmt.Fprintln(w, "State:        idle")
	case status.Holder == nil:
		fmt.Fprintln(w, "State:        syncing (holder unknown)")
	default:
		h := status.Holder
		fmt.Fprintf(w, "State:        syncing (pid %d on %s, started %s)\n",
			h.PID, h.Hostname, humanize.Time(h.StartTime))
		if !status.HolderAlive {
			fmt.Fprintln(w, "              holder process not found; the lock is held by a child or another host")
		}
	}

	store, err := state.Open(cfg.StateDir)
	if err != nil {
		fmt.Fprintf(w, "Last success: unknown (%v)\n", err)
		return nil
	}
	defer store.Close()

	last, err := store.LastSuccess(stableID)
	switch {
	case err != nil:
		fmt.Fprintf(w, "Last success: unknown (%v)\n", err)
	case last == nil:
		fmt.Fprintln(w, "Last success: never")
	default:
		fmt.Fprintf(w, "Last success: %s (run %s, took %s)\n",
			humanize.Time(last.EndTime), shortID(last.RunID), output.FormatDuration(last.Duration()))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
