package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/herd/pkg/engine"
	"github.com/openfroyo/herd/pkg/stores"
)

func newHistoryCommand(g *globalOptions) *cobra.Command {
	var filter stores.RunFilter

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the run history",
		Long: `List runs recorded in the SQLite run history.

Runs are recorded when store.enabled is set in the configuration, or
whenever the history is opened by --on-failed.`,
		Example: `  # Last 20 runs
  herd history --limit 20

  # Failed runs of the command task
  herd history --task command --status failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{store: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			if filter.Status != "" {
				switch filter.Status {
				case engine.RunStatusSucceeded, engine.RunStatusFailed, engine.RunStatusPartial:
				default:
					return fmt.Errorf("invalid status %q", filter.Status)
				}
			}

			runs, err := a.store.ListRuns(ctx, filter)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(w, runs)
			}

			colors := newColorScheme(w, g.noColor)
			table := newTable(w, "Run", "Task", "Status", "Hosts", "Failed", "Started", "Duration")
			for _, r := range runs {
				table.Append([]string{
					r.ID,
					r.Task,
					statusColor(colors, r.Status),
					strconv.Itoa(r.HostCount),
					strconv.Itoa(r.FailedCount),
					r.StartedAt.Local().Format(time.DateTime),
					r.Duration().Round(time.Millisecond).String(),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Task, "task", "", "only runs of this task")
	cmd.Flags().StringVar((*string)(&filter.Status), "status", "", "only runs with this status (succeeded, failed, partial)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of runs (0 for all)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "skip this many runs")

	cmd.AddCommand(newHistoryShowCommand(g))
	cmd.AddCommand(newHistoryFailedCommand(g))
	cmd.AddCommand(newHistoryPruneCommand(g))

	return cmd
}

func newHistoryShowCommand(g *globalOptions) *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "show RUN",
		Short: `Show the per-host results of a run ("last" for the latest)`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{store: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			run, err := lookupRun(cmd, a.store, args[0])
			if err != nil {
				return err
			}
			results, err := a.store.ListHostResults(ctx, run.ID, host)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(w, struct {
					*stores.Run
					Results []*stores.HostResult `json:"results"`
				}{run, results})
			}

			colors := newColorScheme(w, g.noColor)
			fmt.Fprintf(w, "%s %s %s, %d hosts, %d failed, %s\n\n",
				colors.Header("Run %s", run.ID), run.Task, statusColor(colors, run.Status),
				run.HostCount, run.FailedCount, run.StartedAt.Local().Format(time.DateTime))

			table := newTable(w, "Host", "Step", "Task", "Status", "Output")
			for _, r := range results {
				status := colors.Success("ok")
				output := r.Output
				switch {
				case r.Failed:
					status = colors.Error("failed")
					if r.Error != nil {
						output = *r.Error
					}
				case r.Changed:
					status = colors.Changed("changed")
				}
				if r.Diff != "" && !r.Failed {
					output = r.Diff
				}
				table.Append([]string{
					colors.Host("%s", r.Host),
					strconv.Itoa(r.Seq),
					r.Name,
					status,
					oneLine(output, 80),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "", "only results of this host")

	return cmd
}

func newHistoryFailedCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failed RUN",
		Short: `Print the hosts that failed in a run ("last" for the latest)`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{store: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			run, err := lookupRun(cmd, a.store, args[0])
			if err != nil {
				return err
			}
			hosts, err := a.store.FailedHosts(ctx, run.ID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(w, hosts)
			}
			for _, h := range hosts {
				fmt.Fprintln(w, h)
			}
			return nil
		},
	}
}

func newHistoryPruneCommand(g *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a given age",
		Example: `  # Keep the last 30 days
  herd history prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{store: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			n, err := a.store.PruneRuns(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			a.logger.Info().Int64("runs", n).Dur("older_than", olderThan).Msg("Pruned run history")
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete runs started before this age")

	return cmd
}

// lookupRun resolves a run ID, where "last" means the latest run.
func lookupRun(cmd *cobra.Command, store *stores.SQLiteStore, id string) (*stores.Run, error) {
	if id == "last" {
		return store.LatestRun(cmd.Context())
	}
	return store.GetRun(cmd.Context(), id)
}

func statusColor(colors *colorScheme, status engine.RunStatus) string {
	switch status {
	case engine.RunStatusSucceeded:
		return colors.Success("%s", status)
	case engine.RunStatusPartial:
		return colors.Changed("%s", status)
	default:
		return colors.Error("%s", status)
	}
}
