package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"runq/internal/config"
	"runq/internal/preflight"
	"runq/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show runner state and queue overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				for _, line := range renderSectionHeader("Runner", colorize) {
					fmt.Fprintln(out, line)
				}
				probe := preflight.ProbeRunner(cfg)
				runnerKind := statusInfo
				if probe.Active() {
					runnerKind = statusOK
				}
				fmt.Fprintln(out, renderStatusLine("State", runnerKind, probe.Detail(), colorize))

				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("queue stats: %w", err)
				}
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Queue", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, strconv.Itoa(stats.Jobs), colorize))
				sourcesDetail := fmt.Sprintf("%d total, %d processed, %d failed",
					stats.Sources, stats.SourcesProcessed, stats.SourcesFailed)
				fmt.Fprintln(out, renderStatusLine("Sources", statusInfo, sourcesDetail, colorize))

				front, err := store.Front(cmd.Context())
				if err != nil {
					return fmt.Errorf("front job: %w", err)
				}
				if front != nil {
					nextDetail := fmt.Sprintf("job %d: %s (%d of %d sources done)",
						front.Index, front.Label, front.SourceCursor, len(front.Sources))
					fmt.Fprintln(out, renderStatusLine("Next", statusInfo, nextDetail, colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("Next", statusInfo, "queue empty", colorize))
				}

				if report := store.RepairReport(); !report.Empty() {
					repairDetail := fmt.Sprintf("%d jobs dropped, %d repaired", report.RemovedJobs, report.RepairedJobs)
					fmt.Fprintln(out, renderStatusLine("Startup repair", statusWarn, repairDetail, colorize))
				}

				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Storage", colorize) {
					fmt.Fprintln(out, line)
				}
				blob := preflight.CheckBlobStorage(cmd.Context(), cfg)
				blobKind := statusOK
				if !blob.Passed {
					blobKind = statusError
				}
				fmt.Fprintln(out, renderStatusLine("Blobs", blobKind, blob.Detail, colorize))
				return nil
			})
		},
	}
}
