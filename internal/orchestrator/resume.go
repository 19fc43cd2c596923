package orchestrator

import (
	"context"
	"fmt"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/logging"
	"blueline/internal/services"
)

// Resume re-enqueues work for jobs that were in flight when the daemon
// stopped. In-memory queues do not survive a restart, so every running job's
// current stage gets its message republished; idempotent stage handlers make
// the replay safe even when the original message was already handled.
func (o *Orchestrator) Resume(ctx context.Context) error {
	jobs, err := o.store.ListJobs(ctx,
		compare.JobPending,
		compare.JobOCRRunning,
		compare.JobDiffRunning,
		compare.JobSummaryRunning,
	)
	if err != nil {
		return fmt.Errorf("list resumable jobs: %w", err)
	}

	for _, job := range jobs {
		if err := o.resumeJob(ctx, job); err != nil {
			return err
		}
	}
	if len(jobs) > 0 {
		o.logger.Info("resumed in-flight jobs", logging.Int("count", len(jobs)))
	}
	return nil
}

func (o *Orchestrator) resumeJob(ctx context.Context, job *compare.Job) error {
	log := logging.WithContext(services.WithJobID(ctx, job.ID), o.logger)

	switch job.Status {
	case compare.JobPending, compare.JobOCRRunning:
		republished := 0
		for _, versionID := range []string{job.OldVersionID, job.NewVersionID} {
			version, err := o.store.GetVersion(ctx, versionID)
			if err != nil {
				return fmt.Errorf("resume job %s: %w", job.ID, err)
			}
			if version != nil && version.OCRStatus == compare.OCRCompleted {
				continue
			}
			msg := broker.Message{Stage: compare.StageOCR, JobID: job.ID, VersionID: versionID}
			if err := o.broker.Publish(ctx, broker.TopicOCR, msg); err != nil {
				return fmt.Errorf("republish ocr message: %w", err)
			}
			republished++
		}
		if republished == 0 && job.Status == compare.JobOCRRunning {
			// Both versions finished extracting but the diff hand-off was
			// lost with the queue. The dispatch claim may already be taken,
			// so publish directly; the diff write converges regardless.
			msg := broker.Message{Stage: compare.StageDiff, JobID: job.ID}
			if err := o.broker.Publish(ctx, broker.TopicDiff, msg); err != nil {
				return fmt.Errorf("republish diff message: %w", err)
			}
		}
		if job.Status == compare.JobPending {
			if _, err := o.store.TransitionJob(ctx, job.ID, []compare.JobStatus{compare.JobPending}, compare.JobOCRRunning, ""); err != nil {
				return fmt.Errorf("resume pending job: %w", err)
			}
		}
		log.Info("requeued extraction work", logging.String(logging.FieldEventType, "job_resumed"))

	case compare.JobDiffRunning:
		msg := broker.Message{Stage: compare.StageDiff, JobID: job.ID}
		if err := o.broker.Publish(ctx, broker.TopicDiff, msg); err != nil {
			return fmt.Errorf("republish diff message: %w", err)
		}
		log.Info("requeued diff work", logging.String(logging.FieldEventType, "job_resumed"))

	case compare.JobSummaryRunning:
		msg := broker.Message{Stage: compare.StageSummary, JobID: job.ID, VersionID: job.NewVersionID}
		if err := o.broker.Publish(ctx, broker.TopicSummary, msg); err != nil {
			return fmt.Errorf("republish summary message: %w", err)
		}
		log.Info("requeued summary work", logging.String(logging.FieldEventType, "job_resumed"))
	}
	return nil
}

// RetryDeadLetter replays one parked message. The job reopens at the stage
// that failed, the message returns to its work topic with a fresh attempt
// budget, and the parked record is removed. This is an explicit operator
// action, the one path that moves a job out of the failed state.
func (o *Orchestrator) RetryDeadLetter(ctx context.Context, id int64) error {
	record, err := o.store.GetDeadLetter(ctx, id)
	if err != nil {
		return fmt.Errorf("load dead letter: %w", err)
	}
	if record == nil {
		return services.Wrap(services.ErrNotFound, "orchestrator", "retry dead letter",
			fmt.Sprintf("no dead letter with id %d", id), nil)
	}

	reopenTo, topic, ok := stageWork(record.Stage)
	if !ok {
		return services.Wrap(services.ErrValidation, "orchestrator", "retry dead letter",
			fmt.Sprintf("unknown stage %q", record.Stage), nil)
	}

	if _, err := o.store.ReopenJob(ctx, record.JobID, reopenTo); err != nil {
		return fmt.Errorf("reopen job: %w", err)
	}

	msg := broker.Message{
		Stage:      record.Stage,
		JobID:      record.JobID,
		VersionID:  record.VersionID,
		PageNumber: record.PageNumber,
	}
	if err := o.broker.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("republish dead letter: %w", err)
	}
	if err := o.store.DeleteDeadLetter(ctx, id); err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}

	logging.WithContext(services.WithJobID(ctx, record.JobID), o.logger).Info("dead letter replayed",
		logging.String(logging.FieldEventType, "dead_letter_replayed"),
		logging.String(logging.FieldStage, record.Stage),
		logging.Int64("dead_letter_id", record.ID))
	return nil
}

func stageWork(stage string) (compare.JobStatus, string, bool) {
	switch stage {
	case compare.StageOCR:
		return compare.JobOCRRunning, broker.TopicOCR, true
	case compare.StageDiff:
		return compare.JobDiffRunning, broker.TopicDiff, true
	case compare.StageSummary:
		return compare.JobSummaryRunning, broker.TopicSummary, true
	default:
		return "", "", false
	}
}
