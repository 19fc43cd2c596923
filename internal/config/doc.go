// Package config loads, normalizes, and validates blueline configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BLUELINE_EXTRACTION_API_KEY. The Config type centralizes every knob the
// daemon and CLI need: directories, the extraction service connection, the
// broker retry policy, and worker pool sizes.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
