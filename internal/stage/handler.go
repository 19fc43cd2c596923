package stage

import (
	"context"
	"errors"

	"blueline/internal/broker"
	"blueline/internal/compare"
)

// Handler describes the contract the worker pool needs from each stage.
type Handler interface {
	Handle(context.Context, broker.Message) error
	HealthCheck(context.Context) Health
}

// ErrNotReady signals that a message's preconditions are not yet met and it
// should be requeued with backoff rather than treated as a failure. The
// summary stage returns it while pages are still arriving.
var ErrNotReady = errors.New("stage preconditions not met")

// EventSink receives stage events for job status folding. The daemon wires
// it to the orchestrator.
type EventSink func(context.Context, compare.StageEvent) error
