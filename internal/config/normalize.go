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
	c.normalizeExtraction()
	c.normalizeBroker()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeExtraction() {
	c.Extraction.APIKey = strings.TrimSpace(c.Extraction.APIKey)
	if c.Extraction.APIKey == "" {
		if value, ok := os.LookupEnv("BLUELINE_EXTRACTION_API_KEY"); ok {
			c.Extraction.APIKey = strings.TrimSpace(value)
		}
	}
	c.Extraction.BaseURL = strings.TrimSpace(c.Extraction.BaseURL)
	if c.Extraction.BaseURL == "" {
		c.Extraction.BaseURL = defaultExtractionBaseURL
	}
	c.Extraction.Model = strings.TrimSpace(c.Extraction.Model)
	if c.Extraction.Model == "" {
		c.Extraction.Model = defaultExtractionModel
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		c.Extraction.TimeoutSeconds = defaultExtractionTimeout
	}
	if c.Extraction.PageRetryAttempts <= 0 {
		c.Extraction.PageRetryAttempts = defaultPageRetryAttempts
	}
}

func (c *Config) normalizeBroker() {
	if c.Broker.MaxAttempts <= 0 {
		c.Broker.MaxAttempts = defaultBrokerMaxAttempts
	}
	if c.Broker.BackoffInitialMS <= 0 {
		c.Broker.BackoffInitialMS = defaultBackoffInitialMS
	}
	if c.Broker.BackoffMaxMS < c.Broker.BackoffInitialMS {
		c.Broker.BackoffMaxMS = defaultBackoffMaxMS
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.OCRWorkers <= 0 {
		c.Workflow.OCRWorkers = defaultOCRWorkers
	}
	if c.Workflow.DiffWorkers <= 0 {
		c.Workflow.DiffWorkers = defaultDiffWorkers
	}
	if c.Workflow.SummaryWorkers <= 0 {
		c.Workflow.SummaryWorkers = defaultSummaryWorkers
	}
	if c.Workflow.PageWorkers <= 0 {
		c.Workflow.PageWorkers = defaultPageWorkers
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
