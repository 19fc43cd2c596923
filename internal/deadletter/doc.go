// Package deadletter persists messages that exhausted the retry policy and
// surfaces the terminal failure to the orchestrator.
package deadletter
