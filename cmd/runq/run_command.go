package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"runq/internal/blobstore"
	"runq/internal/control"
	"runq/internal/dataset"
	"runq/internal/logging"
	"runq/internal/notifications"
	"runq/internal/queue"
	"runq/internal/runner"
	"runq/internal/services/engine"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the queue in the foreground",
		Long: `Run acquires the runner lock, hosts the control socket, and processes
queued jobs strictly in order until the queue is empty or the run is
cancelled. Progress is printed per source. SIGINT requests a cooperative
stop: the in-flight source finishes, its checkpoint is written, and the
rest of the queue waits for the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Progress lines own the console; structured logs go to the
			// shared log file only.
			logPath := filepath.Join(cfg.Paths.LogDir, "runq.log")
			logger, err := logging.New(logging.Options{
				Level:            cfg.Logging.Level,
				Format:           "json",
				OutputPaths:      []string{logPath},
				ErrorOutputPaths: []string{logPath},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			lock := flock.New(cfg.LockPath())
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire runner lock: %w", err)
			}
			if !ok {
				return errors.New("another runq runner instance is already running")
			}
			defer lock.Unlock()

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open queue store: %w", err)
			}
			defer store.Close()

			blobs, err := blobstore.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("open blob store: %w", err)
			}
			resolver, err := dataset.NewResolver(blobs)
			if err != nil {
				return err
			}
			client, err := engine.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build engine client: %w", err)
			}

			bus := control.NewMemoryBus()
			defer bus.Close()
			hub, err := control.NewHub(runCtx, cfg.ControlSocketPath(), bus, logger)
			if err != nil {
				return fmt.Errorf("host control socket: %w", err)
			}
			defer hub.Close()
			hub.Serve()

			out := cmd.OutOrStdout()
			opts := []runner.Option{
				runner.WithLogger(logger),
				runner.WithNotifier(notifications.NewService(cfg)),
				runner.WithBus(bus),
			}
			if !quiet {
				opts = append(opts, runner.WithProgress(func(snap runner.Snapshot) {
					fmt.Fprintln(out, renderSnapshot(snap))
				}))
			}
			r, err := runner.New(store, blobs, resolver, client, opts...)
			if err != nil {
				return err
			}

			report, err := r.Run(runCtx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, report.Summary())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-source progress output")
	return cmd
}

func renderSnapshot(snap runner.Snapshot) string {
	prefix := fmt.Sprintf("[job %d] %s", snap.JobIndex, snap.Label)
	switch {
	case snap.State == runner.JobActive && snap.SourceName == "":
		if snap.SourceCursor > 0 {
			return fmt.Sprintf("%s: resuming at source %d/%d", prefix, snap.SourceCursor+1, snap.SourceCount)
		}
		return fmt.Sprintf("%s: started (%d sources)", prefix, snap.SourceCount)
	case snap.State == runner.JobActive:
		return fmt.Sprintf("%s: source %d/%d %s (ok %d, failed %d)",
			prefix, snap.SourceCursor, snap.SourceCount, snap.SourceName, snap.SuccessCount, snap.FailureCount)
	default:
		return fmt.Sprintf("%s: %s", prefix, snap.State.Display())
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Ask the active run to stop after the in-flight source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			msg := control.NewMessage(control.ActionCancel, control.NewSessionID())
			if err := control.Broadcast(cfg.ControlSocketPath(), msg); err != nil {
				fmt.Fprintln(out, "No active runner is listening; nothing to cancel")
				return nil
			}
			fmt.Fprintln(out, "Cancellation requested; the in-flight source will finish first")
			return nil
		},
	}
}
