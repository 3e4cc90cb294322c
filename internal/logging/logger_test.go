package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"runq/internal/config"
	"runq/internal/logging"
	"runq/internal/services"
)

func timeDaysAgo(days int) time.Time {
	return time.Now().AddDate(0, 0, -days)
}

func TestNewConsoleWritesSingleLine(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("source completed",
		logging.String(logging.FieldComponent, "runner"),
		logging.Int64(logging.FieldJobIndex, 3),
		logging.Int(logging.FieldSourceIndex, 1),
		logging.Int(logging.FieldSourceCount, 5),
		logging.String("strategy", "momentum"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(content))
	if strings.Count(line, "\n") != 0 {
		t.Fatalf("expected a single log line, got %q", line)
	}
	for _, fragment := range []string{"INFO", "[runner]", "Job #3 (source 2/5)", "source completed", "strategy=momentum"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in line %q", fragment, line)
		}
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("expected component to be promoted out of the tail, got %q", line)
	}
}

func TestConsoleOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestNewJSONLoggerKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "out.json")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &decoded); err != nil {
		t.Fatalf("decode json log line: %v", err)
	}
	if decoded["msg"] != "json message" {
		t.Fatalf("expected msg key, got %v", decoded)
	}
	if decoded["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", decoded["level"])
	}
	if _, ok := decoded["ts"].(string); !ok {
		t.Fatalf("expected ts key, got %v", decoded)
	}
	if decoded["k"] != "v" {
		t.Fatalf("expected attribute to survive, got %v", decoded)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "chatty",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Debug("suppressed")
	logger.Info("visible")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "suppressed") {
		t.Fatalf("expected debug output suppressed, got %q", content)
	}
	if !strings.Contains(string(content), "visible") {
		t.Fatalf("expected info output, got %q", content)
	}
}

func TestNewFromConfigTeesJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon ready")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "runq.log"))
	if err != nil {
		t.Fatalf("read runq.log: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &decoded); err != nil {
		t.Fatalf("expected JSON log file, decode failed: %v (%q)", err, content)
	}
	if decoded["msg"] != "daemon ready" {
		t.Fatalf("expected message in log file, got %v", decoded)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "3f8a1d")
	ctx = services.WithJobIndex(ctx, 4)
	ctx = services.WithSourceIndex(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-xyz")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WithContext(ctx, logger).Info("contextual log")

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if decoded[logging.FieldJobID] != "3f8a1d" {
		t.Fatalf("expected job_id field, got %v", decoded)
	}
	if decoded[logging.FieldJobIndex] != float64(4) {
		t.Fatalf("expected job_index field, got %v", decoded)
	}
	if decoded[logging.FieldSourceIndex] != float64(2) {
		t.Fatalf("expected source_index field, got %v", decoded)
	}
	if decoded[logging.FieldCorrelationID] != "req-xyz" {
		t.Fatalf("expected correlation_id field, got %v", decoded)
	}
}

func TestCleanupOldLogsPrunesByAge(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "stale.log")
	keepPath := filepath.Join(dir, "current.log")
	for _, path := range []string{oldPath, keepPath} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	ancient := timeDaysAgo(30)
	if err := os.Chtimes(oldPath, ancient, ancient); err != nil {
		t.Fatalf("age fixture: %v", err)
	}

	logging.CleanupOldLogs(logging.NewNop(), 7, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "*.log",
		Exclude: []string{keepPath},
	})

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, stat err=%v", err)
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Fatalf("expected excluded log kept: %v", err)
	}
}
