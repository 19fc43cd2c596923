package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Broker.MaxAttempts < 1 {
		problems = append(problems, "broker.max_attempts must be at least 1")
	}
	if c.Broker.BackoffInitialMS < 1 {
		problems = append(problems, "broker.backoff_initial_ms must be at least 1")
	}
	if c.Broker.BackoffMaxMS < c.Broker.BackoffInitialMS {
		problems = append(problems, "broker.backoff_max_ms must be >= broker.backoff_initial_ms")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
