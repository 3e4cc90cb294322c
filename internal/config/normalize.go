package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEngine(); err != nil {
		return err
	}
	c.normalizeRunner()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BlobDir) == "" {
		c.Paths.BlobDir = defaultBlobDir
	}
	if c.Paths.BlobDir, err = expandPath(c.Paths.BlobDir); err != nil {
		return fmt.Errorf("paths.blob_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ControlSocket) == "" {
		c.Paths.ControlSocket = defaultControlSocket
	}
	if c.Paths.ControlSocket, err = expandPath(c.Paths.ControlSocket); err != nil {
		return fmt.Errorf("paths.control_socket: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockFile) == "" {
		c.Paths.LockFile = defaultLockFile
	}
	if c.Paths.LockFile, err = expandPath(c.Paths.LockFile); err != nil {
		return fmt.Errorf("paths.lock_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() error {
	c.Engine.URL = strings.TrimSpace(c.Engine.URL)
	if c.Engine.URL == "" {
		c.Engine.URL = defaultEngineURL
	}
	c.Engine.URL = strings.TrimRight(c.Engine.URL, "/")
	c.Engine.APIKey = strings.TrimSpace(c.Engine.APIKey)
	if c.Engine.APIKey == "" {
		if value, ok := os.LookupEnv("RUNQ_ENGINE_API_KEY"); ok {
			c.Engine.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Engine.SubmitTimeoutMinutes < 0 {
		c.Engine.SubmitTimeoutMinutes = 0
	}
	return nil
}

func (c *Config) normalizeRunner() {
	if c.Runner.PollIntervalSeconds == 0 {
		c.Runner.PollIntervalSeconds = defaultRunnerPollInterval
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
