package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"runq/internal/blobstore"
	"runq/internal/config"
	"runq/internal/logging"
	"runq/internal/queue"
	"runq/internal/services/engine"
)

// minFreeBytes is the free-space floor below which the blob storage check
// fails. Uploaded payloads are small; running this low means the filesystem
// is in trouble.
const minFreeBytes = 128 << 20

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckQueueDatabase opens the queue database and verifies schema and
// integrity. Opening runs the standard startup repair pass, which is
// idempotent, so the check is safe to run beside a live daemon.
func CheckQueueDatabase(ctx context.Context, cfg *config.Config) Result {
	const name = "Queue database"

	store, err := queue.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed (%v)", err)}
	}
	defer store.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := store.CheckHealth(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	if health.Error != "" {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", health.DBPath, health.Error)}
	}
	if !health.IntegrityCheck {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: integrity check failed)", health.DBPath)}
	}
	if len(health.MissingColumns) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: missing columns %v)", health.DBPath, health.MissingColumns)}
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("%s (schema v%s, %d jobs)", health.DBPath, health.SchemaVersion, health.TotalJobs),
	}
}

// CheckBlobStorage verifies the blob directory is usable and that the
// filesystem has room for new uploads.
func CheckBlobStorage(ctx context.Context, cfg *config.Config) Result {
	const name = "Blob storage"

	store, err := blobstore.New(cfg, logging.NewNop())
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed (%v)", err)}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("stat failed (%v)", err)}
	}
	if stats.FreeBytes < minFreeBytes {
		return Result{Name: name, Detail: fmt.Sprintf("low disk space (%s free)", formatBytes(stats.FreeBytes))}
	}

	detail := fmt.Sprintf("%s (%d blobs, %s used, %s free)",
		store.Root(), stats.Blobs, formatBytes(uint64(stats.TotalBytes)), formatBytes(stats.FreeBytes))
	if stats.Partials > 0 {
		detail += fmt.Sprintf(", %d partial uploads pending sweep", stats.Partials)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckEngine verifies the backtest engine is reachable and accepts the
// configured credentials. It uses a 5-second timeout and a single attempt.
func CheckEngine(ctx context.Context, cfg *config.Config) Result {
	const name = "Engine"

	client, err := engine.NewFromConfig(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("client init failed (%v)", err)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeEngineError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (healthy)", client.BaseURL())}
}

// summarizeEngineError produces a human-readable summary for engine health
// check failures.
func summarizeEngineError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (engine unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (engine unreachable)"
	}
	return err.Error()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
