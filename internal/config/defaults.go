package config

const (
	defaultWorkDir        = "~/.local/share/subbatch"
	defaultLogDir         = "~/.local/share/subbatch/logs"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultConcurrency    = 1
	defaultRequestTimeout = 10
	defaultSourceLang     = "en"
	defaultTargetLang     = "ar"
	defaultOutputSuffix   = "ar"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Batch: Batch{
			Concurrency: defaultConcurrency,
		},
		Engine: Engine{
			SourceLang:   defaultSourceLang,
			TargetLang:   defaultTargetLang,
			OutputSuffix: defaultOutputSuffix,
		},
		Notifications: Notifications{
			RequestTimeout: defaultRequestTimeout,
			Batch:          true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Enabled: true,
		},
		Verify: Verify{
			Enabled: true,
		},
	}
}
