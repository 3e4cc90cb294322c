package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"runq/internal/blobstore"
	"runq/internal/config"
	"runq/internal/daemon"
	"runq/internal/logging"
	"runq/internal/preflight"
	"runq/internal/queue"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Configuration file path")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolvedPath, exists, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if !exists {
		logger.Warn("config file not found; running on defaults",
			logging.String("config_path", resolvedPath),
		)
	}

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{
			Dir:     cfg.Paths.LogDir,
			Pattern: "*.log",
			Exclude: []string{filepath.Join(cfg.Paths.LogDir, "runq.log")},
		},
	)

	for _, res := range preflight.RunAll(ctx, cfg) {
		if res.Passed {
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", res.Name),
			logging.String("detail", res.Detail),
			logging.String(logging.FieldImpact, "queued jobs may fail until this is resolved"),
		)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "runqd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	if summary := store.RepairReport(); !summary.Empty() {
		logger.Warn("startup repair modified the queue",
			logging.Int("removed_jobs", summary.RemovedJobs),
			logging.Int("repaired_jobs", summary.RepairedJobs),
			logging.Bool("next_index_reset", summary.NextIndexReset),
		)
	}

	blobs, err := blobstore.New(cfg, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("open blob store: %w", err)
	}

	d, err := daemon.New(cfg, store, blobs, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("runqd shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
