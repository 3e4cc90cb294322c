package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"runq/internal/config"
	"runq/internal/queue"
	"runq/internal/runner"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued jobs in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				jobs, err := store.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("list queue: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprintln(out, renderJobTable(jobs))
				return nil
			})
		},
	}
}

func renderJobTable(jobs []*queue.Job) string {
	headers := []string{"#", "ID", "Mode", "Label", "Progress", "OK", "Failed", "Added"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(job.Index, 10),
			shortID(job.ID),
			job.Mode.Display(),
			job.Label,
			fmt.Sprintf("%d/%d", job.SourceCursor, len(job.Sources)),
			strconv.Itoa(job.SuccessCount),
			strconv.Itoa(job.FailureCount),
			job.AddedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(headers, rows, aligns)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove JOB",
		Short: "Remove a queued job and its uploaded payloads",
		Long: `Remove deletes the job matching JOB, which may be a queue index, a full
job ID, or an unambiguous ID prefix. Uploaded payloads the job referenced
are deleted with it. Refused while a runner session is active.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.guardRunnerIdle(); err != nil {
				return err
			}
			return ctx.withRunner(func(cfg *config.Config, r *runner.Runner) error {
				job, err := r.Remove(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %d: %s\n", job.Index, job.Label)
				return nil
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every queued job",
		Long: `Clear empties the queue and sweeps all uploaded payloads. Index numbering
restarts from 1 afterwards. Refused while a runner session is active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.guardRunnerIdle(); err != nil {
				return err
			}
			return ctx.withRunner(func(cfg *config.Config, r *runner.Runner) error {
				removed, err := r.Clear(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if removed == 0 {
					fmt.Fprintln(out, "Queue was already empty")
					return nil
				}
				noun := "jobs"
				if removed == 1 {
					noun = "job"
				}
				fmt.Fprintf(out, "Cleared %d %s\n", removed, noun)
				return nil
			})
		},
	}
}
