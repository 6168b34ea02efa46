package config

const (
	defaultDataDir            = "~/.local/share/ramp"
	defaultLogDir             = "~/.local/share/ramp/logs"
	defaultAPIBind            = "127.0.0.1:7642"
	defaultLogFormat          = "text"
	defaultLogLevel           = "info"
	defaultLanguage           = "en"
	defaultWorkers            = 4
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultMaxAttempts        = 3
	defaultStageTimeout       = 300
	defaultRetryBackoff       = 500
	defaultRetryBackoffMax    = 30000
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			MaxAttempts:     defaultMaxAttempts,
			StageTimeout:    defaultStageTimeout,
			RetryBackoff:    defaultRetryBackoff,
			RetryBackoffMax: defaultRetryBackoffMax,
			DefaultLanguage: defaultLanguage,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
