// Package daemon composes the comparison pipeline into a long-running
// process: the SQLite store, the in-memory broker, the orchestrator, one
// worker pool per stage, the dead-letter routers, and the HTTP API the CLI
// talks to. A file lock keeps execution single-instance.
package daemon
