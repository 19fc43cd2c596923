// Package compare defines the domain model for drawing revision comparison:
// jobs, drawing versions, per-page extraction entries, change records, and
// the summary aggregate, along with the status enums and transition rules the
// rest of the pipeline relies on.
//
// A job's status is monotonically non-decreasing through pending, the three
// running stages, and a terminal state; CanTransition is the single authority
// for that rule. Change record ordering (drawing code, then removed/modified/
// added, then insertion order) lives here so the diff stage and the store
// agree on it.
//
// Treat this package as the single source of truth for pipeline semantics;
// when you add statuses or fields, update the store schema alongside.
package compare
