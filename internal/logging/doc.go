// Package logging constructs the slog loggers used across the daemon and CLI.
//
// It provides a pretty console handler for interactive use, a JSON handler for
// machine consumption, typed attribute helpers, standardized field name
// constants, and context-derived fields (job, stage, version, correlation id)
// so every component logs the same vocabulary.
package logging
