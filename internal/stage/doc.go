// Package stage defines the handler contract pipeline stages implement and
// the worker pool that pumps a broker topic into a handler. The pool owns
// the shared retry policy: transient failures are requeued with backoff
// until the attempt ceiling, at which point the message is dead-lettered.
package stage
