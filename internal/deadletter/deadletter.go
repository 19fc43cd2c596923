package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/logging"
	"blueline/internal/services"
	"blueline/internal/stage"
	"blueline/internal/store"
)

// Router consumes the dead-letter topics. It persists one record per parked
// message and reports the terminal failure to the orchestrator so the job
// reaches the failed state.
type Router struct {
	store  *store.Store
	events stage.EventSink
	logger *slog.Logger
}

// NewRouter constructs the dead-letter router.
func NewRouter(st *store.Store, events stage.EventSink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Router{
		store:  st,
		events: events,
		logger: logging.NewComponentLogger(logger, "deadletter"),
	}
}

// Handle parks one exhausted message.
func (r *Router) Handle(ctx context.Context, msg broker.Message) error {
	topic, ok := workTopic(msg.Stage)
	if !ok {
		return services.Wrap(services.ErrValidation, "deadletter", "handle message",
			fmt.Sprintf("unknown stage %q", msg.Stage), nil)
	}

	record := &compare.DeadLetterRecord{
		Topic:      broker.DeadLetterTopic(topic),
		Stage:      msg.Stage,
		JobID:      msg.JobID,
		VersionID:  msg.VersionID,
		PageNumber: msg.PageNumber,
		Attempt:    msg.Attempt,
		LastError:  msg.Error,
	}
	created, err := r.store.InsertDeadLetter(ctx, record)
	if err != nil {
		return services.Wrap(services.ErrTransient, "deadletter", "persist record", "insert dead letter", err)
	}

	log := logging.WithContext(ctx, r.logger)
	if !created {
		log.Debug("dead letter already recorded",
			logging.String(logging.FieldStage, msg.Stage))
		return nil
	}

	log.Error("message parked after exhausting retries",
		logging.String(logging.FieldEventType, "dead_lettered"),
		logging.String(logging.FieldStage, msg.Stage),
		logging.Int(logging.FieldAttempt, msg.Attempt),
		logging.String("detail", msg.Error),
		logging.Alert("dead_letter"),
		logging.String(logging.FieldErrorHint, "inspect with 'blueline deadletters' and replay with 'blueline retry'"))

	if r.events != nil {
		event := compare.StageEvent{
			JobID:     msg.JobID,
			Stage:     msg.Stage,
			Outcome:   compare.OutcomeFailure,
			Message:   msg.Error,
			VersionID: msg.VersionID,
		}
		if err := r.events(ctx, event); err != nil {
			return fmt.Errorf("emit failure event: %w", err)
		}
	}
	return nil
}

// HealthCheck is always ready; the router only needs the store.
func (r *Router) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("deadletter")
}

func workTopic(stageName string) (string, bool) {
	switch stageName {
	case compare.StageOCR:
		return broker.TopicOCR, true
	case compare.StageDiff:
		return broker.TopicDiff, true
	case compare.StageSummary:
		return broker.TopicSummary, true
	default:
		return "", false
	}
}
