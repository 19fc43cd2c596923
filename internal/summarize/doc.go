// Package summarize implements the final pipeline stage: gating on full
// page coverage plus committed change records, aggregating the summary, and
// closing both versions' logs.
package summarize
