package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateRunner(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.BlobDir == c.Paths.DataDir {
		return errors.New("paths.blob_dir must differ from paths.data_dir")
	}
	return nil
}

func (c *Config) validateEngine() error {
	parsed, err := url.Parse(c.Engine.URL)
	if err != nil {
		return fmt.Errorf("engine.url is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("engine.url must use http or https, got %q", c.Engine.URL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("engine.url must include a host, got %q", c.Engine.URL)
	}
	if c.Engine.HealthTimeoutSeconds <= 0 {
		return errors.New("engine.health_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRunner() error {
	if c.Runner.PollIntervalSeconds <= 0 {
		return errors.New("runner.poll_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}
