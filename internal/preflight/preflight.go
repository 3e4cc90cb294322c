package preflight

import (
	"context"

	"runq/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all preflight checks for the given config. Directory
// checks come first so a failed filesystem check explains the database
// and blob failures that follow it.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Blob directory", cfg.Paths.BlobDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckQueueDatabase(ctx, cfg),
		CheckBlobStorage(ctx, cfg),
		CheckEngine(ctx, cfg),
	}

	probe := ProbeRunner(cfg)
	results = append(results, Result{Name: "Runner", Passed: true, Detail: probe.Detail()})

	return results
}
