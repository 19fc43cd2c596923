// Package extraction wraps the external service that turns drawing pages
// into structured data. Payloads are schema-validated at the boundary so
// malformed responses surface as permanent errors instead of corrupt log
// entries.
package extraction
