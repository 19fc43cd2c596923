package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/logging"
	"blueline/internal/services"
	"blueline/internal/stage"
	"blueline/internal/store"
)

var titleCaser = cases.Title(language.English)

// Worker runs the final stage: once every page of both versions is in the
// log and the change records are committed, it aggregates the summary,
// writes it exactly once, and closes both logs.
type Worker struct {
	store  *store.Store
	events stage.EventSink
	logger *slog.Logger
}

// NewWorker constructs the summary stage worker.
func NewWorker(st *store.Store, events stage.EventSink, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		store:  st,
		events: events,
		logger: logging.NewComponentLogger(logger, "summary"),
	}
}

// Handle finalizes one job.
func (w *Worker) Handle(ctx context.Context, msg broker.Message) error {
	job, err := w.store.GetJob(ctx, msg.JobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageSummary, "load job", "read job row", err)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, compare.StageSummary, "load job",
			fmt.Sprintf("unknown job %s", msg.JobID), nil)
	}

	log := logging.WithContext(ctx, w.logger)

	oldLog, newLog, ready, err := w.loadLogs(ctx, job)
	if err != nil {
		return err
	}
	if !ready {
		log.Debug("summary preconditions not met, requeueing")
		return stage.ErrNotReady
	}

	changes, err := w.store.ListChanges(ctx, job.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageSummary, "load changes", "read change records", err)
	}

	summary := Aggregate(oldLog, newLog, changes)

	if cancelled, err := w.store.CancelRequested(ctx, job.ID); err == nil && cancelled {
		log.Info("skipping summary write for cancelled job")
		return nil
	}

	wrote, err := w.store.SetSummary(ctx, job.NewVersionID, summary)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageSummary, "persist summary", "write summary", err)
	}
	if !wrote {
		log.Debug("summary already written by an earlier delivery")
	}
	for _, versionID := range []string{job.OldVersionID, job.NewVersionID} {
		if err := w.store.CompleteLog(ctx, versionID); err != nil {
			return services.Wrap(services.ErrTransient, compare.StageSummary, "close log", "stamp log completion", err)
		}
	}
	log.Info("summary finalized",
		logging.String(logging.FieldEventType, "summary_completed"),
		logging.Int("total_pages", summary.TotalPages),
		logging.Int("drawings_found", len(summary.DrawingsFound)))

	if w.events != nil {
		event := compare.StageEvent{JobID: job.ID, Stage: compare.StageSummary, Outcome: compare.OutcomeSuccess}
		if err := w.events(ctx, event); err != nil {
			return fmt.Errorf("emit summary success: %w", err)
		}
	}
	return nil
}

// HealthCheck is always ready; the summary stage has no external dependency.
func (w *Worker) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("summary")
}

// loadLogs returns both logs and whether every readiness condition holds:
// all pages present in each log and the diff output committed.
func (w *Worker) loadLogs(ctx context.Context, job *compare.Job) (*compare.OcrLog, *compare.OcrLog, bool, error) {
	if !job.DiffDone {
		return nil, nil, false, nil
	}

	logs := make([]*compare.OcrLog, 2)
	for i, versionID := range []string{job.OldVersionID, job.NewVersionID} {
		version, err := w.store.GetVersion(ctx, versionID)
		if err != nil {
			return nil, nil, false, services.Wrap(services.ErrTransient, compare.StageSummary, "load version", "read version row", err)
		}
		if version == nil {
			return nil, nil, false, services.Wrap(services.ErrValidation, compare.StageSummary, "load version",
				fmt.Sprintf("unknown version %s", versionID), nil)
		}
		versionLog, err := w.store.GetLog(ctx, versionID)
		if err != nil {
			return nil, nil, false, services.Wrap(services.ErrTransient, compare.StageSummary, "load log", "read version log", err)
		}
		if versionLog == nil || !versionLog.Complete(version.PageCount) {
			return nil, nil, false, nil
		}
		logs[i] = versionLog
	}
	return logs[0], logs[1], true, nil
}

// Aggregate derives the summary from both versions' page entries and the
// job's change records. Drawing codes are deduplicated across versions;
// project and architect fields come from the newest version's title blocks,
// normalized to title case.
func Aggregate(oldLog, newLog *compare.OcrLog, changes []compare.ChangeRecord) *compare.Summary {
	summary := &compare.Summary{
		TotalPages: len(oldLog.Pages) + len(newLog.Pages),
	}

	seen := make(map[string]bool)
	for _, log := range []*compare.OcrLog{oldLog, newLog} {
		for _, page := range log.Pages {
			if page.Failed() {
				continue
			}
			code := compare.NormalizeDrawingCode(page.DrawingName)
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			summary.DrawingsFound = append(summary.DrawingsFound, code)
		}
	}
	sort.Strings(summary.DrawingsFound)

	summary.ProjectInfo = titleBlockField(newLog.Pages, "project", "project_name")
	summary.ArchitectInfo = titleBlockField(newLog.Pages, "architect", "architect_name", "firm")
	summary.RevisionSummary = describeChanges(changes)
	return summary
}

// titleBlockField scans pages for the first non-empty value under any of the
// candidate field names and normalizes its casing.
func titleBlockField(pages []compare.PageEntry, names ...string) string {
	for _, page := range pages {
		if page.Failed() || len(page.ExtractedInfo) == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(page.ExtractedInfo, &fields); err != nil {
			continue
		}
		for _, name := range names {
			if value, ok := fields[name].(string); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return titleCaser.String(strings.ToLower(trimmed))
				}
			}
		}
	}
	return ""
}

func describeChanges(changes []compare.ChangeRecord) string {
	if len(changes) == 0 {
		return "no changes detected"
	}
	counts := map[compare.ChangeAction]int{}
	for _, change := range changes {
		counts[change.Action]++
	}
	return fmt.Sprintf("%d changes: %d removed, %d modified, %d added",
		len(changes),
		counts[compare.ActionRemoved],
		counts[compare.ActionModified],
		counts[compare.ActionAdded])
}
