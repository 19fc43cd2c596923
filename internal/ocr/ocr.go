package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/config"
	"blueline/internal/extraction"
	"blueline/internal/logging"
	"blueline/internal/services"
	"blueline/internal/stage"
	"blueline/internal/store"
)

const (
	defaultPageWorkers  = 4
	defaultPageAttempts = 3
	pageRetryBaseDelay  = 500 * time.Millisecond
	pageRetryMaxDelay   = 10 * time.Second
)

// Worker runs the extraction stage for one drawing version per message. Page
// results land in the incremental log as they finish; a page that exhausts
// its retry budget gets an error-marked entry instead of failing the job.
type Worker struct {
	store        *store.Store
	broker       broker.Broker
	extractor    extraction.Extractor
	events       stage.EventSink
	logger       *slog.Logger
	pageWorkers  int
	pageAttempts int
	sleep        func(context.Context, time.Duration) error
}

// NewWorker constructs the OCR stage worker.
func NewWorker(st *store.Store, b broker.Broker, ex extraction.Extractor, events stage.EventSink, cfg *config.Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	pageWorkers := defaultPageWorkers
	pageAttempts := defaultPageAttempts
	if cfg != nil {
		if cfg.Workflow.PageWorkers > 0 {
			pageWorkers = cfg.Workflow.PageWorkers
		}
		if cfg.Extraction.PageRetryAttempts > 0 {
			pageAttempts = cfg.Extraction.PageRetryAttempts
		}
	}
	return &Worker{
		store:        st,
		broker:       b,
		extractor:    ex,
		events:       events,
		logger:       logging.NewComponentLogger(logger, "ocr"),
		pageWorkers:  pageWorkers,
		pageAttempts: pageAttempts,
		sleep:        sleepContext,
	}
}

// Handle processes one version's extraction.
func (w *Worker) Handle(ctx context.Context, msg broker.Message) error {
	if msg.VersionID == "" {
		return services.Wrap(services.ErrValidation, compare.StageOCR, "handle message", "message missing version id", nil)
	}

	version, err := w.store.GetVersion(ctx, msg.VersionID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageOCR, "load version", "read version row", err)
	}
	if version == nil {
		return services.Wrap(services.ErrValidation, compare.StageOCR, "load version",
			fmt.Sprintf("unknown version %s", msg.VersionID), nil)
	}

	log := logging.WithContext(ctx, w.logger)

	if version.OCRStatus != compare.OCRCompleted {
		if err := w.store.StartVersionOCR(ctx, version.ID); err != nil {
			return services.Wrap(services.ErrTransient, compare.StageOCR, "start version", "open extraction log", err)
		}

		copied, err := w.reuseMatchingExtraction(ctx, version, log)
		if err != nil {
			return err
		}
		if !copied {
			if err := w.extractPages(ctx, msg.JobID, version, log); err != nil {
				return err
			}
		}

		if cancelled, err := w.store.CancelRequested(ctx, msg.JobID); err == nil && cancelled {
			log.Info("skipping completion for cancelled job")
			return nil
		}
		resultRef := "ocr_logs/" + version.ID
		if err := w.store.CompleteVersionOCR(ctx, version.ID, resultRef); err != nil {
			return services.Wrap(services.ErrTransient, compare.StageOCR, "complete version", "persist completion", err)
		}
		log.Info("version extraction completed",
			logging.String(logging.FieldEventType, "ocr_completed"),
			logging.Int("page_count", version.PageCount))
	}

	return w.dispatchDiffIfReady(ctx, msg.JobID, log)
}

// HealthCheck reports extraction service reachability.
func (w *Worker) HealthCheck(ctx context.Context) stage.Health {
	if err := w.extractor.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("ocr", err.Error())
	}
	return stage.Healthy("ocr")
}

// reuseMatchingExtraction copies pages from a completed version with the
// same content hash instead of re-extracting. Returns true when the copy
// happened.
func (w *Worker) reuseMatchingExtraction(ctx context.Context, version *compare.DrawingVersion, log *slog.Logger) (bool, error) {
	if version.FileHash == "" {
		return false, nil
	}
	match, err := w.store.FindCompletedByHash(ctx, version.FileHash, version.ID)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, compare.StageOCR, "dedup lookup", "find version by hash", err)
	}
	if match == nil {
		return false, nil
	}
	if err := w.store.CopyPages(ctx, version.ID, match.ID); err != nil {
		return false, services.Wrap(services.ErrTransient, compare.StageOCR, "dedup copy", "copy extracted pages", err)
	}
	log.Info("reused extraction from identical document",
		logging.String(logging.FieldEventType, "ocr_deduplicated"),
		logging.String("source_version_id", match.ID))
	return true, nil
}

func (w *Worker) extractPages(ctx context.Context, jobID string, version *compare.DrawingVersion, log *slog.Logger) error {
	existing, err := w.store.PageNumbers(ctx, version.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageOCR, "list pages", "read existing pages", err)
	}
	done := make(map[int]bool, len(existing))
	for _, page := range existing {
		done[page] = true
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.pageWorkers)
	for page := 1; page <= version.PageCount; page++ {
		if done[page] {
			continue
		}
		page := page
		group.Go(func() error {
			return w.extractOnePage(groupCtx, jobID, version.ID, page, log)
		})
	}
	return group.Wait()
}

// extractOnePage runs the per-page retry budget. Only context cancellation
// propagates as an error; everything else converges to a page entry, either
// with data or with an error marker. A job-level cancel request stops the
// page before anything is written.
func (w *Worker) extractOnePage(ctx context.Context, jobID, versionID string, page int, log *slog.Logger) error {
	if w.jobCancelled(ctx, jobID) {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= w.pageAttempts; attempt++ {
		info, err := w.extractor.ExtractPage(ctx, versionID, page)
		if err == nil {
			if w.jobCancelled(ctx, jobID) {
				return nil
			}
			entry := &compare.PageEntry{
				VersionID:     versionID,
				PageNumber:    page,
				DrawingName:   info.DrawingName,
				ExtractedInfo: info.Info,
				Confidence:    info.Confidence,
			}
			if _, err := w.store.InsertPage(ctx, entry); err != nil {
				return services.Wrap(services.ErrTransient, compare.StageOCR, "persist page", "insert page entry", err)
			}
			log.Debug("page extracted",
				logging.Int(logging.FieldPageNumber, page),
				logging.Int(logging.FieldAttempt, attempt))
			return nil
		}

		if errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
		if !services.Retryable(err) {
			break
		}
		if attempt < w.pageAttempts {
			if err := w.sleep(ctx, pageBackoff(attempt)); err != nil {
				return err
			}
		}
	}

	// Budget exhausted: record the failure on the page and keep the version
	// moving.
	if w.jobCancelled(ctx, jobID) {
		return nil
	}
	entry := &compare.PageEntry{
		VersionID:  versionID,
		PageNumber: page,
		Error:      lastErr.Error(),
	}
	if _, err := w.store.InsertPage(ctx, entry); err != nil {
		return services.Wrap(services.ErrTransient, compare.StageOCR, "persist page failure", "insert error entry", err)
	}
	log.Warn("page extraction failed permanently",
		logging.Int(logging.FieldPageNumber, page),
		logging.Error(lastErr))
	if w.events != nil {
		event := compare.StageEvent{
			JobID:      jobID,
			Stage:      compare.StageOCR,
			Outcome:    compare.OutcomePageFailure,
			Message:    lastErr.Error(),
			VersionID:  versionID,
			PageNumber: page,
		}
		if err := w.events(ctx, event); err != nil {
			log.Warn("page failure event rejected", logging.Error(err))
		}
	}
	return nil
}

// jobCancelled reports whether the job's cancel flag is set. A lookup error
// reads as not cancelled; the completion check in Handle stays authoritative.
func (w *Worker) jobCancelled(ctx context.Context, jobID string) bool {
	cancelled, err := w.store.CancelRequested(ctx, jobID)
	return err == nil && cancelled
}

// dispatchDiffIfReady publishes the diff-stage message once both versions
// have finished extracting. The store-side claim guarantees the two racing
// OCR messages produce exactly one dispatch.
func (w *Worker) dispatchDiffIfReady(ctx context.Context, jobID string, log *slog.Logger) error {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageOCR, "load job", "read job row", err)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, compare.StageOCR, "load job",
			fmt.Sprintf("unknown job %s", jobID), nil)
	}
	for _, versionID := range []string{job.OldVersionID, job.NewVersionID} {
		version, err := w.store.GetVersion(ctx, versionID)
		if err != nil {
			return services.Wrap(services.ErrTransient, compare.StageOCR, "load version", "read version row", err)
		}
		if version == nil || version.OCRStatus != compare.OCRCompleted {
			return nil
		}
	}

	won, err := w.store.ClaimDiffDispatch(ctx, jobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageOCR, "claim dispatch", "claim diff dispatch", err)
	}
	if !won {
		return nil
	}

	msg := broker.Message{Stage: compare.StageDiff, JobID: jobID}
	if err := w.broker.Publish(ctx, broker.TopicDiff, msg); err != nil {
		return services.Wrap(services.ErrTransient, compare.StageOCR, "publish diff", "enqueue diff message", err)
	}
	log.Info("both versions extracted, diff dispatched",
		logging.String(logging.FieldEventType, "diff_dispatched"))

	if w.events != nil {
		event := compare.StageEvent{JobID: jobID, Stage: compare.StageOCR, Outcome: compare.OutcomeSuccess}
		if err := w.events(ctx, event); err != nil {
			return fmt.Errorf("emit ocr success: %w", err)
		}
	}
	return nil
}

func pageBackoff(attempt int) time.Duration {
	delay := pageRetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= pageRetryMaxDelay {
			return pageRetryMaxDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
