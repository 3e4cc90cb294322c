package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"runq/internal/config"
)

func TestLoadDefaultsUsesEnvEngineKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("RUNQ_ENGINE_API_KEY", "env-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "runq")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.BlobDir != filepath.Join(wantData, "blobs") {
		t.Fatalf("unexpected blob dir: %q", cfg.Paths.BlobDir)
	}
	if cfg.Paths.ControlSocket != filepath.Join(wantData, "runqd.sock") {
		t.Fatalf("unexpected control socket: %q", cfg.Paths.ControlSocket)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "queue.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Engine.URL != "http://127.0.0.1:8090" {
		t.Fatalf("unexpected engine url: %q", cfg.Engine.URL)
	}
	if cfg.Engine.APIKey != "env-key" {
		t.Fatalf("expected engine key from env, got %q", cfg.Engine.APIKey)
	}
	if cfg.Engine.SubmitTimeoutMinutes != 0 {
		t.Fatalf("expected submit timeout disabled by default, got %d", cfg.Engine.SubmitTimeoutMinutes)
	}
	if cfg.Runner.PollIntervalSeconds != 5 {
		t.Fatalf("unexpected poll interval: %d", cfg.Runner.PollIntervalSeconds)
	}
	if !cfg.Runner.DrainOnStart {
		t.Fatal("expected drain_on_start enabled by default")
	}
	if cfg.Notifications.NtfyTopic != "" {
		t.Fatalf("expected notifications disabled by default, got topic %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.BlobDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "runq.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Engine struct {
			URL    string `toml:"url"`
			APIKey string `toml:"api_key"`
		} `toml:"engine"`
		Runner struct {
			PollIntervalSeconds int `toml:"poll_interval_seconds"`
		} `toml:"runner"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "state")
	custom.Engine.URL = "https://engine.internal:9443/"
	custom.Engine.APIKey = "file-key"
	custom.Runner.PollIntervalSeconds = 30

	encoded, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.DataDir != custom.Paths.DataDir {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Engine.URL != "https://engine.internal:9443" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Engine.URL)
	}
	if cfg.Engine.APIKey != "file-key" {
		t.Fatalf("unexpected engine key: %q", cfg.Engine.APIKey)
	}
	if cfg.Runner.PollIntervalSeconds != 30 {
		t.Fatalf("unexpected poll interval: %d", cfg.Runner.PollIntervalSeconds)
	}
}

func TestLoadRejectsInvalidEngineURL(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "runq.toml")
	content := "[engine]\nurl = \"ftp://example.com\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := config.Load(configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "engine.url") {
		t.Fatalf("expected engine.url in error, got %v", err)
	}
}

func TestLoadRejectsNonPositivePollInterval(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "runq.toml")
	content := "[runner]\npoll_interval_seconds = -1\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := config.Load(configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "runner.poll_interval_seconds") {
		t.Fatalf("expected runner.poll_interval_seconds in error, got %v", err)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	samplePath := filepath.Join(tempHome, "config", "config.toml")
	if err := config.CreateSample(samplePath); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	cfg, _, exists, err := config.Load(samplePath)
	if err != nil {
		t.Fatalf("Load of sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Engine.URL == "" {
		t.Fatal("expected engine url populated")
	}
}

func TestExpandPathTilde(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	expanded, err := config.ExpandPath("~/nested/dir")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if expanded != filepath.Join(tempHome, "nested", "dir") {
		t.Fatalf("unexpected expansion: %q", expanded)
	}
}
