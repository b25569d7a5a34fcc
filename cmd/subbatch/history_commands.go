package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"subbatch/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded batch runs",
	}

	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))

	return historyCmd
}

func (c *commandContext) withHistory(fn func(*history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("open history ledger: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				runs, err := store.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						strconv.FormatInt(run.ID, 10),
						run.StartedAt.Local().Format("2006-01-02 15:04:05"),
						run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
						strconv.Itoa(run.Concurrency),
						strconv.Itoa(run.Total),
						strconv.Itoa(run.Completed),
						strconv.Itoa(run.Failed),
						strconv.Itoa(run.Cancelled),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Started", "Duration", "Slots", "Total", "Completed", "Failed", "Cancelled"},
					rows, 1, 4, 5, 6, 7, 8))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the jobs of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			return ctx.withHistory(func(store *history.Store) error {
				records, err := store.RunJobs(cmd.Context(), runID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintf(out, "Run %d has no recorded jobs\n", runID)
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					detail := rec.OutputRef
					switch {
					case rec.ErrorMessage != "":
						detail = rec.ErrorMessage
					case rec.Warning != "":
						detail = fmt.Sprintf("%s (%s)", rec.OutputRef, rec.Warning)
					}
					rows = append(rows, []string{
						rec.SourcePath,
						string(rec.Status),
						fmt.Sprintf("%d%%", rec.Percent),
						detail,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Source", "Status", "Progress", "Detail"}, rows, 3))
				return nil
			})
		},
	}
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s)\n", removed)
				return nil
			})
		},
	}
}
