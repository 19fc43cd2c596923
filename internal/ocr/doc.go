// Package ocr implements the extraction stage: it fans a drawing version's
// pages out to the extraction service, persists results incrementally with
// first-write-wins semantics, and hands the job to the diff stage once both
// versions are done.
package ocr
