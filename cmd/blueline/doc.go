// Command blueline is the CLI for the blueline daemon: submitting drawing
// comparisons, inspecting jobs and extraction logs, and replaying dead
// letters.
package main
