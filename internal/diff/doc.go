// Package diff implements the comparison stage: aligning extracted pages
// across two drawing versions and deriving the removed, modified, and added
// change records.
package diff
