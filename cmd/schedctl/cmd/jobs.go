package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_scheduler/internal/schedule"
)

type jobView struct {
	ID      string    `json:"id"`
	Lane    string    `json:"lane"`
	SpaceID string    `json:"space_id"`
	EntryID string    `json:"entry_id"`
	RunAt   time.Time `json:"run_at"`
}

func newJobsCmd() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage pending jobs",
	}
	jobs.AddCommand(newJobsListCmd(), newJobsCountCmd(), newJobsRemoveCmd())
	return jobs
}

// lanesFromArgs returns the lane named in args, or every lane.
func lanesFromArgs(args []string) ([]schedule.Lane, error) {
	if len(args) == 0 {
		return schedule.Lanes, nil
	}
	lane, err := schedule.ParseLane(args[0])
	if err != nil {
		return nil, err
	}
	return []schedule.Lane{lane}, nil
}

func newJobsListCmd() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list [lane]",
		Short: "List pending jobs ordered by run time",
		Long: `List pending jobs of one lane (publish or unpublish), or of both.

Examples:
  schedctl jobs list
  schedctl jobs list publish --limit 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lanes, err := lanesFromArgs(args)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = schedule.PeekAll
			}
			return withStore(cmd, func(ctx context.Context, s JobStore) error {
				views := []jobView{}
				for _, lane := range lanes {
					jobs, err := s.Peek(ctx, lane, offset, limit)
					if err != nil {
						return fmt.Errorf("list %s jobs: %w", lane, err)
					}
					for _, j := range jobs {
						views = append(views, jobView{
							ID:      j.ID,
							Lane:    j.Lane.String(),
							SpaceID: j.Args.SpaceID,
							EntryID: j.Args.EntryID,
							RunAt:   j.RunAt,
						})
					}
				}
				if outputJSON {
					return printJSON(cmd.OutOrStdout(), views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending jobs")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LANE\tSPACE\tENTRY\tRUN AT\tID")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Lane, v.SpaceID, v.EntryID, v.RunAt.UTC().Format(time.RFC3339), v.ID)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many jobs per lane")
	cmd.Flags().IntVar(&limit, "limit", 0, "max jobs per lane (0 for all)")
	return cmd
}

func newJobsCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count [lane]",
		Short: "Count pending jobs per lane",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lanes, err := lanesFromArgs(args)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s JobStore) error {
				counts := make(map[string]int, len(lanes))
				for _, lane := range lanes {
					n, err := s.Count(ctx, lane)
					if err != nil {
						return fmt.Errorf("count %s jobs: %w", lane, err)
					}
					counts[lane.String()] = n
				}
				if outputJSON {
					return printJSON(cmd.OutOrStdout(), counts)
				}
				for _, lane := range lanes {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", lane, counts[lane.String()])
				}
				return nil
			})
		},
	}
}

func newJobsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <lane> <space-id> <entry-id>",
		Short: "Remove the pending jobs of one entry",
		Long: `Remove every pending job of a lane for one entry. Removing an entry
with nothing queued is not an error.

Example:
  schedctl jobs remove publish cfexampleapi 5KsDBWseXY6QegucYAoacS`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lane, err := schedule.ParseLane(args[0])
			if err != nil {
				return err
			}
			target := schedule.Args{SpaceID: args[1], EntryID: args[2]}
			return withStore(cmd, func(ctx context.Context, s JobStore) error {
				if err := s.RemoveDelayed(ctx, lane, target); err != nil {
					return fmt.Errorf("remove %s job: %w", lane, err)
				}
				if outputJSON {
					return printJSON(cmd.OutOrStdout(), map[string]string{
						"status":   "removed",
						"lane":     lane.String(),
						"space_id": target.SpaceID,
						"entry_id": target.EntryID,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s jobs for %s/%s\n", lane, target.SpaceID, target.EntryID)
				return nil
			})
		},
	}
}
