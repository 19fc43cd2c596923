package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/logging"
	"blueline/internal/services"
	"blueline/internal/store"
)

// Orchestrator owns job lifecycle: it accepts comparison requests, seeds the
// first stage, folds stage events into status transitions, and handles
// cancellation. It holds no per-job state in memory; every decision is a
// compare-and-set against the store, which makes duplicate events and
// daemon restarts safe.
type Orchestrator struct {
	store  *store.Store
	broker broker.Broker
	logger *slog.Logger
}

// New constructs an orchestrator.
func New(st *store.Store, b broker.Broker, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:  st,
		broker: b,
		logger: logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// Submit registers both drawing versions, creates a pending job, publishes
// one OCR message per version, and moves the job to ocr_running. The
// returned id identifies the job for status polling and cancellation.
func (o *Orchestrator) Submit(ctx context.Context, oldVersion, newVersion *compare.DrawingVersion) (string, error) {
	if oldVersion == nil || newVersion == nil {
		return "", services.Wrap(services.ErrValidation, "orchestrator", "submit", "both drawing versions are required", nil)
	}
	if oldVersion.ID == newVersion.ID {
		return "", services.Wrap(services.ErrValidation, "orchestrator", "submit", "old and new versions must differ", nil)
	}

	if err := o.store.RegisterVersion(ctx, oldVersion); err != nil {
		return "", services.Wrap(services.ErrValidation, "orchestrator", "submit", "register old version", err)
	}
	if err := o.store.RegisterVersion(ctx, newVersion); err != nil {
		return "", services.Wrap(services.ErrValidation, "orchestrator", "submit", "register new version", err)
	}

	job := &compare.Job{
		ID:           uuid.NewString(),
		OldVersionID: oldVersion.ID,
		NewVersionID: newVersion.ID,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	log := logging.WithContext(services.WithJobID(ctx, job.ID), o.logger)
	for _, versionID := range []string{job.OldVersionID, job.NewVersionID} {
		msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: versionID}
		if err := o.broker.Publish(ctx, broker.TopicOCR, msg); err != nil {
			return "", fmt.Errorf("publish ocr message: %w", err)
		}
	}

	applied, err := o.store.TransitionJob(ctx, job.ID, []compare.JobStatus{compare.JobPending}, compare.JobOCRRunning, "")
	if err != nil {
		return "", fmt.Errorf("transition to ocr_running: %w", err)
	}
	if !applied {
		log.Warn("job left pending state before submit finished")
	}

	log.Info("comparison job submitted",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.String("old_version_id", job.OldVersionID),
		logging.String("new_version_id", job.NewVersionID))
	return job.ID, nil
}

// Cancel requests cooperative cancellation: the flag stops workers before
// their next persistence step, and the status moves to the terminal
// cancelled state. Returns false when the job is unknown or already
// terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (bool, error) {
	flagged, err := o.store.RequestCancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	if !flagged {
		return false, nil
	}

	running := []compare.JobStatus{
		compare.JobPending,
		compare.JobOCRRunning,
		compare.JobDiffRunning,
		compare.JobSummaryRunning,
	}
	if _, err := o.store.TransitionJob(ctx, jobID, running, compare.JobCancelled, ""); err != nil {
		return false, fmt.Errorf("transition to cancelled: %w", err)
	}

	logging.WithContext(services.WithJobID(ctx, jobID), o.logger).Info("comparison job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"))
	return true, nil
}

// HandleEvent folds one stage event into the job's status machine. Events
// arrive at least once and possibly out of order; the compare-and-set
// transitions make duplicates and stale events silent no-ops.
func (o *Orchestrator) HandleEvent(ctx context.Context, event compare.StageEvent) error {
	log := logging.WithContext(services.WithJobID(ctx, event.JobID), o.logger)

	switch event.Outcome {
	case compare.OutcomePageFailure:
		// Partial failure: the page carries an error marker in the log, the
		// job keeps going.
		log.Warn("page extraction failed permanently",
			logging.String(logging.FieldStage, event.Stage),
			logging.String(logging.FieldVersionID, event.VersionID),
			logging.Int(logging.FieldPageNumber, event.PageNumber),
			logging.String("detail", event.Message))
		return nil

	case compare.OutcomeFailure:
		detail := strings.TrimSpace(event.Message)
		errText := event.Stage
		if detail != "" {
			errText = event.Stage + ": " + detail
		}
		running := []compare.JobStatus{
			compare.JobPending,
			compare.JobOCRRunning,
			compare.JobDiffRunning,
			compare.JobSummaryRunning,
		}
		applied, err := o.store.TransitionJob(ctx, event.JobID, running, compare.JobFailed, errText)
		if err != nil {
			return fmt.Errorf("fold failure event: %w", err)
		}
		if applied {
			log.Error("comparison job failed",
				logging.String(logging.FieldEventType, "job_failed"),
				logging.String(logging.FieldStage, event.Stage),
				logging.String("detail", detail),
				logging.Alert("job_failed"))
		}
		return nil

	case compare.OutcomeSuccess:
		from, to, ok := successTransition(event.Stage)
		if !ok {
			return services.Wrap(services.ErrValidation, "orchestrator", "handle event",
				fmt.Sprintf("unknown stage %q", event.Stage), nil)
		}
		applied, err := o.store.TransitionJob(ctx, event.JobID, from, to, "")
		if err != nil {
			return fmt.Errorf("fold success event: %w", err)
		}
		if !applied {
			log.Debug("stage success event ignored",
				logging.String(logging.FieldStage, event.Stage))
			return nil
		}
		if to == compare.JobCompleted {
			log.Info("comparison job completed",
				logging.String(logging.FieldEventType, "job_completed"))
		} else {
			log.Info("stage finished",
				logging.String(logging.FieldEventType, "stage_finished"),
				logging.String(logging.FieldStage, event.Stage))
		}
		return nil
	}

	return services.Wrap(services.ErrValidation, "orchestrator", "handle event",
		fmt.Sprintf("unknown outcome %q", event.Outcome), nil)
}

// successTransition maps a stage success onto its target status and the set
// of statuses it may advance from. Later stages accept earlier running
// states too: a stage's success event can arrive after the next stage has
// already finished its work, and folding must not depend on arrival order.
// Stale events (the job already moved past the target) fail the CAS and
// stay no-ops.
func successTransition(stage string) ([]compare.JobStatus, compare.JobStatus, bool) {
	switch stage {
	case compare.StageOCR:
		return []compare.JobStatus{compare.JobOCRRunning}, compare.JobDiffRunning, true
	case compare.StageDiff:
		return []compare.JobStatus{compare.JobOCRRunning, compare.JobDiffRunning},
			compare.JobSummaryRunning, true
	case compare.StageSummary:
		return []compare.JobStatus{compare.JobOCRRunning, compare.JobDiffRunning, compare.JobSummaryRunning},
			compare.JobCompleted, true
	default:
		return nil, "", false
	}
}
