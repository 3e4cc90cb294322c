package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"runq/internal/blobstore"
	"runq/internal/config"
	"runq/internal/dataset"
	"runq/internal/logging"
	"runq/internal/preflight"
	"runq/internal/queue"
	"runq/internal/runner"
	"runq/internal/services/engine"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// withStore opens the queue store for one command invocation and closes it
// when fn returns.
func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

// withRunner builds an idle runner over freshly opened collaborators for
// queue mutations. CLI commands stay quiet on the console; everything the
// runner logs goes nowhere.
func (c *commandContext) withRunner(fn func(*config.Config, *runner.Runner) error) error {
	return c.withStore(func(cfg *config.Config, store *queue.Store) error {
		blobs, err := blobstore.New(cfg, logging.NewNop())
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
		r, err := runner.New(store, blobs, resolver, client, runner.WithLogger(logging.NewNop()))
		if err != nil {
			return err
		}
		return fn(cfg, r)
	})
}

// guardRunnerIdle refuses destructive queue mutations while another process
// owns the runner lock. Another session's drain could be mid-job; pulling
// rows out from under it would corrupt its checkpointing.
func (c *commandContext) guardRunnerIdle() error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	probe := preflight.ProbeRunner(cfg)
	if probe.Active() {
		return fmt.Errorf("a runner is %s; cancel the run or stop runqd first", probe.Detail())
	}
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
