package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/nwhost/journal"
)

func newJournalCmd(c *cli) *cobra.Command {
	var launchID string
	var limit int
	var prune time.Duration

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recorded launch events",
		Long: `List the events recorded in the launch journal, most recent first, or
all events of one launch in order with --launch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.v.GetString("journal")
			if path == "" {
				return errors.New("no journal configured: set --journal or NWHOST_JOURNAL")
			}
			j, err := journal.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open journal %s: %w", path, err)
			}
			defer j.Close()

			out := cmd.OutOrStdout()
			if prune > 0 {
				deleted, err := j.DeleteOldEvents(prune)
				if err != nil {
					return fmt.Errorf("failed to prune journal: %w", err)
				}
				fmt.Fprintf(out, "Deleted %d events older than %s\n", deleted, prune)
			}

			var events []journal.Event
			if launchID != "" {
				events, err = j.GetEventsByLaunchID(launchID)
			} else {
				events, err = j.GetRecentEvents(limit)
			}
			if err != nil {
				return fmt.Errorf("failed to query journal: %w", err)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tLAUNCH\tEVENT\tPORT\tPID\tDETAIL")
			for _, event := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					event.Time().Local().Format(time.DateTime),
					event.LaunchID,
					event.EventType,
					optionalInt(event.Port),
					optionalInt(event.PID),
					event.Detail,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&launchID, "launch", "", "show every event of this launch")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent events to show")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete events older than this before listing")
	return cmd
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
