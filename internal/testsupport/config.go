package testsupport

import (
	"path/filepath"
	"testing"

	"runq/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.BlobDir = filepath.Join(base, "blobs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ControlSocket = filepath.Join(base, "runqd.sock")
	cfgVal.Paths.LockFile = filepath.Join(base, "runqd.lock")
	cfgVal.Runner.PollIntervalSeconds = 1
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithEngineURL points the engine client at the provided base URL, typically
// an httptest server.
func WithEngineURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.URL = url
	}
}

// WithEngineAPIKey sets the bearer token used for engine requests.
func WithEngineAPIKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.APIKey = key
	}
}

// WithNtfyTopic enables notifications against the provided topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
