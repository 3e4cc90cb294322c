package config

const (
	defaultDataDir              = "~/.local/share/runq"
	defaultBlobDir              = "~/.local/share/runq/blobs"
	defaultLogDir               = "~/.local/share/runq/logs"
	defaultControlSocket        = "~/.local/share/runq/runqd.sock"
	defaultLockFile             = "~/.local/share/runq/runqd.lock"
	defaultEngineURL            = "http://127.0.0.1:8090"
	defaultEngineHealthTimeout  = 10
	defaultRunnerPollInterval   = 5
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			BlobDir:       defaultBlobDir,
			LogDir:        defaultLogDir,
			ControlSocket: defaultControlSocket,
			LockFile:      defaultLockFile,
		},
		Engine: Engine{
			URL:                  defaultEngineURL,
			HealthTimeoutSeconds: defaultEngineHealthTimeout,
		},
		Runner: Runner{
			PollIntervalSeconds: defaultRunnerPollInterval,
			DrainOnStart:        true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunStart:       true,
			JobFinished:    true,
			RunSummary:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
