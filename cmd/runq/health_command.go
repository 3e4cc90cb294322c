package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"runq/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run readiness checks against the queue, storage, and engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Health", colorize) {
				fmt.Fprintln(out, line)
			}

			failed := 0
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, res := range results {
				kind := statusOK
				if !res.Passed {
					kind = statusError
					failed++
				}
				fmt.Fprintln(out, renderStatusLine(res.Name, kind, res.Detail, colorize))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			fmt.Fprintf(out, "\nAll %d checks passed\n", len(results))
			return nil
		},
	}
}
