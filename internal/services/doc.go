// Package services provides the shared error taxonomy and context annotation
// helpers used by pipeline stage handlers.
//
// Errors are tagged with sentinel markers (transient, timeout, validation,
// configuration, not found) via Wrap so the stage worker pool can decide
// between redelivery and dead-lettering without string matching. Context
// helpers carry job, stage, version, and correlation identifiers that the
// logging package turns into structured attributes.
package services
