// Package orchestrator owns the comparison job lifecycle: submission,
// cancellation, folding stage events into the status machine, restart
// recovery, and operator replay of dead-lettered messages.
package orchestrator
