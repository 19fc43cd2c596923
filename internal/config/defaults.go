package config

const (
	defaultDataDir           = "~/.local/share/blueline/data"
	defaultLogDir            = "~/.local/share/blueline/logs"
	defaultAPIBind           = "127.0.0.1:7519"
	defaultExtractionBaseURL = "https://api.openai.com/v1/chat/completions"
	defaultExtractionModel   = "gpt-4o-mini"
	defaultExtractionTimeout = 120
	defaultPageRetryAttempts = 5
	defaultBrokerMaxAttempts = 5
	defaultBackoffInitialMS  = 500
	defaultBackoffMaxMS      = 30000
	defaultOCRWorkers        = 2
	defaultDiffWorkers       = 1
	defaultSummaryWorkers    = 1
	defaultPageWorkers       = 4
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Extraction: Extraction{
			BaseURL:           defaultExtractionBaseURL,
			Model:             defaultExtractionModel,
			TimeoutSeconds:    defaultExtractionTimeout,
			PageRetryAttempts: defaultPageRetryAttempts,
		},
		Broker: Broker{
			MaxAttempts:      defaultBrokerMaxAttempts,
			BackoffInitialMS: defaultBackoffInitialMS,
			BackoffMaxMS:     defaultBackoffMaxMS,
		},
		Workflow: Workflow{
			OCRWorkers:     defaultOCRWorkers,
			DiffWorkers:    defaultDiffWorkers,
			SummaryWorkers: defaultSummaryWorkers,
			PageWorkers:    defaultPageWorkers,
			ResumeOnStart:  true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
