package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"runq/internal/blobstore"
	"runq/internal/config"
	"runq/internal/queue"
	"runq/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func (env *cliTestEnv) openStore(t *testing.T) *queue.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, env.cfg)
}

func (env *cliTestEnv) openBlobs(t *testing.T) *blobstore.Store {
	t.Helper()
	return testsupport.MustOpenBlobs(t, env.cfg)
}

func (env *cliTestEnv) seedJob(t *testing.T, sources int) *queue.Job {
	t.Helper()
	store := env.openStore(t)
	blobs := env.openBlobs(t)
	return testsupport.SeedJob(t, store, blobs, env.cfg, sources)
}

func (env *cliTestEnv) writeDataset(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(env.baseDir, "datasets", name)
	testsupport.WriteFile(t, path, 128)
	return path
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
blob_dir = %q
log_dir = %q
control_socket = %q
lock_file = %q

[engine]
url = %q
api_key = %q

[runner]
poll_interval_seconds = %d
drain_on_start = %t
`,
		cfg.Paths.DataDir,
		cfg.Paths.BlobDir,
		cfg.Paths.LogDir,
		cfg.Paths.ControlSocket,
		cfg.Paths.LockFile,
		cfg.Engine.URL,
		cfg.Engine.APIKey,
		cfg.Runner.PollIntervalSeconds,
		cfg.Runner.DrainOnStart,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func writeFileString(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
