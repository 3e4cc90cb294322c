package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"runq/internal/config"
	"runq/internal/control"
	"runq/internal/queue"
	"runq/internal/runner"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		modeFlag     string
		strategyFlag string
		paramsFlag   string
		labelFlag    string
		uploadFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "add [flags] DATASET...",
		Short: "Queue a backtest or optimization job",
		Long: `Add queues one job covering the given dataset files. Each dataset becomes
one source; sources are processed strictly in the order given here.

By default dataset arguments are stored as filesystem paths and read at run
time, so the files must still exist when the job reaches the front of the
queue. With --upload the file contents are copied into managed blob storage
instead and the originals can be deleted immediately.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, ok := queue.ParseMode(modeFlag)
			if !ok {
				return fmt.Errorf("unknown mode %q (expected optimization or walk_forward)", modeFlag)
			}
			params, err := resolveParams(paramsFlag)
			if err != nil {
				return err
			}

			draft := queue.Draft{
				Label:    strings.TrimSpace(labelFlag),
				Mode:     mode,
				Strategy: strings.TrimSpace(strategyFlag),
				Config:   params,
			}
			for _, arg := range args {
				src, err := buildDraftSource(arg, uploadFlag)
				if err != nil {
					return err
				}
				draft.Sources = append(draft.Sources, src)
			}

			return ctx.withRunner(func(cfg *config.Config, r *runner.Runner) error {
				job, err := r.Enqueue(cmd.Context(), draft)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				noun := "sources"
				if len(job.Sources) == 1 {
					noun = "source"
				}
				fmt.Fprintf(out, "Queued job %d: %s (%d %s)\n", job.Index, job.Label, len(job.Sources), noun)
				if notifyWake(cfg) {
					fmt.Fprintln(out, "Active runner notified")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&modeFlag, "mode", "m", string(queue.ModeOptimization), "Run mode: optimization or walk_forward")
	cmd.Flags().StringVarP(&strategyFlag, "strategy", "s", "", "Strategy identifier to run")
	cmd.Flags().StringVar(&paramsFlag, "params", "", "Strategy parameters, inline or @file to read from disk")
	cmd.Flags().StringVarP(&labelFlag, "label", "l", "", "Display label (derived from mode and sources when empty)")
	cmd.Flags().BoolVarP(&uploadFlag, "upload", "u", false, "Copy dataset contents into blob storage instead of referencing paths")
	_ = cmd.MarkFlagRequired("strategy")

	return cmd
}

func buildDraftSource(arg string, upload bool) (queue.DraftSource, error) {
	if !upload {
		return queue.DraftSource{Path: arg}, nil
	}

	info, err := os.Stat(arg)
	if err != nil {
		return queue.DraftSource{}, fmt.Errorf("stat dataset %s: %w", arg, err)
	}
	if info.IsDir() {
		return queue.DraftSource{}, fmt.Errorf("dataset %s is a directory; --upload takes files", arg)
	}
	payload, err := os.ReadFile(arg)
	if err != nil {
		return queue.DraftSource{}, fmt.Errorf("read dataset %s: %w", arg, err)
	}
	return queue.DraftSource{
		Path:         arg,
		Name:         filepath.Base(arg),
		Payload:      payload,
		LastModified: info.ModTime(),
	}, nil
}

func resolveParams(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(value, "@"); ok {
		data, err := os.ReadFile(rest)
		if err != nil {
			return "", fmt.Errorf("read params file: %w", err)
		}
		value = strings.TrimSpace(string(data))
	}
	return value, nil
}

// notifyWake nudges a resident runner so a freshly queued job starts without
// waiting out the poll interval. Best effort: nobody listening is fine.
func notifyWake(cfg *config.Config) bool {
	msg := control.NewMessage(control.ActionWake, control.NewSessionID())
	return control.Broadcast(cfg.ControlSocketPath(), msg) == nil
}
