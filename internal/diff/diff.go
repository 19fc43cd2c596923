package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/logging"
	"blueline/internal/services"
	"blueline/internal/stage"
	"blueline/internal/store"
)

// Worker runs the comparison stage: it aligns the two versions' extracted
// pages by drawing code and writes the resulting change records in one
// transaction.
type Worker struct {
	store  *store.Store
	broker broker.Broker
	events stage.EventSink
	logger *slog.Logger
}

// NewWorker constructs the diff stage worker.
func NewWorker(st *store.Store, b broker.Broker, events stage.EventSink, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		store:  st,
		broker: b,
		events: events,
		logger: logging.NewComponentLogger(logger, "diff"),
	}
}

// Handle compares the job's two versions.
func (w *Worker) Handle(ctx context.Context, msg broker.Message) error {
	job, err := w.store.GetJob(ctx, msg.JobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageDiff, "load job", "read job row", err)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, compare.StageDiff, "load job",
			fmt.Sprintf("unknown job %s", msg.JobID), nil)
	}

	log := logging.WithContext(ctx, w.logger)

	// Both extractions must be committed before comparing; page-failure
	// events and the dedup path can make this message arrive early.
	for _, versionID := range []string{job.OldVersionID, job.NewVersionID} {
		version, err := w.store.GetVersion(ctx, versionID)
		if err != nil {
			return services.Wrap(services.ErrTransient, compare.StageDiff, "load version", "read version row", err)
		}
		if version == nil || version.OCRStatus != compare.OCRCompleted {
			return stage.ErrNotReady
		}
	}

	oldLog, err := w.store.GetLog(ctx, job.OldVersionID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageDiff, "load log", "read old version log", err)
	}
	newLog, err := w.store.GetLog(ctx, job.NewVersionID)
	if err != nil {
		return services.Wrap(services.ErrTransient, compare.StageDiff, "load log", "read new version log", err)
	}
	if oldLog == nil || newLog == nil {
		return stage.ErrNotReady
	}

	changes := Compare(job.ID, oldLog.Pages, newLog.Pages)

	if cancelled, err := w.store.CancelRequested(ctx, job.ID); err == nil && cancelled {
		log.Info("skipping change write for cancelled job")
		return nil
	}
	if err := w.store.ReplaceChanges(ctx, job.ID, changes); err != nil {
		return services.Wrap(services.ErrTransient, compare.StageDiff, "persist changes", "write change records", err)
	}
	log.Info("comparison finished",
		logging.String(logging.FieldEventType, "diff_completed"),
		logging.Int("change_count", len(changes)))

	summaryMsg := broker.Message{Stage: compare.StageSummary, JobID: job.ID, VersionID: job.NewVersionID}
	if err := w.broker.Publish(ctx, broker.TopicSummary, summaryMsg); err != nil {
		return services.Wrap(services.ErrTransient, compare.StageDiff, "publish summary", "enqueue summary message", err)
	}

	if w.events != nil {
		event := compare.StageEvent{JobID: job.ID, Stage: compare.StageDiff, Outcome: compare.OutcomeSuccess}
		if err := w.events(ctx, event); err != nil {
			return fmt.Errorf("emit diff success: %w", err)
		}
	}
	return nil
}

// HealthCheck is always ready; the diff stage has no external dependency.
func (w *Worker) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("diff")
}

// Compare aligns two versions' pages by normalized drawing code and derives
// change records: codes only in the old version are removals, codes only in
// the new one are additions, and shared codes whose extracted fields differ
// produce one modification per field. Error-marked pages are excluded; a
// page that never extracted cannot support a claim about change.
func Compare(jobID string, oldPages, newPages []compare.PageEntry) []compare.ChangeRecord {
	oldByCode := indexByCode(oldPages)
	newByCode := indexByCode(newPages)

	var changes []compare.ChangeRecord
	position := 0
	add := func(code string, action compare.ChangeAction, category, description string, confidence float64) {
		changes = append(changes, compare.ChangeRecord{
			ID:          uuid.NewString(),
			JobID:       jobID,
			DrawingCode: code,
			Action:      action,
			Category:    category,
			Description: description,
			Confidence:  clampConfidence(confidence),
			Position:    position,
		})
		position++
	}

	for _, code := range sortedCodes(oldByCode) {
		oldPage := oldByCode[code]
		newPage, stillPresent := newByCode[code]
		if !stillPresent {
			add(code, compare.ActionRemoved, "sheet",
				fmt.Sprintf("drawing %s is no longer present", code), oldPage.Confidence)
			continue
		}
		for _, field := range changedFields(oldPage.ExtractedInfo, newPage.ExtractedInfo) {
			confidence := oldPage.Confidence
			if newPage.Confidence < confidence {
				confidence = newPage.Confidence
			}
			add(code, compare.ActionModified, field.name, field.describe(code), confidence)
		}
	}
	for _, code := range sortedCodes(newByCode) {
		if _, existed := oldByCode[code]; existed {
			continue
		}
		add(code, compare.ActionAdded, "sheet",
			fmt.Sprintf("drawing %s is new in this version", code), newByCode[code].Confidence)
	}

	compare.SortChanges(changes)
	return changes
}

func indexByCode(pages []compare.PageEntry) map[string]compare.PageEntry {
	index := make(map[string]compare.PageEntry, len(pages))
	for _, page := range pages {
		if page.Failed() {
			continue
		}
		code := compare.NormalizeDrawingCode(page.DrawingName)
		if code == "" {
			continue
		}
		if _, dup := index[code]; dup {
			continue
		}
		index[code] = page
	}
	return index
}

func sortedCodes(index map[string]compare.PageEntry) []string {
	codes := make([]string, 0, len(index))
	for code := range index {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

type fieldChange struct {
	name     string
	oldValue string
	newValue string
}

func (f fieldChange) describe(code string) string {
	switch {
	case f.oldValue == "":
		return fmt.Sprintf("%s of %s set to %q", f.name, code, f.newValue)
	case f.newValue == "":
		return fmt.Sprintf("%s of %s cleared (was %q)", f.name, code, f.oldValue)
	default:
		return fmt.Sprintf("%s of %s changed from %q to %q", f.name, code, f.oldValue, f.newValue)
	}
}

// changedFields flattens both extracted payloads to string fields and
// returns the ones that differ, sorted by field name.
func changedFields(oldRaw, newRaw json.RawMessage) []fieldChange {
	oldFields := decodeFields(oldRaw)
	newFields := decodeFields(newRaw)

	names := make(map[string]bool, len(oldFields)+len(newFields))
	for name := range oldFields {
		names[name] = true
	}
	for name := range newFields {
		names[name] = true
	}

	var changed []fieldChange
	for name := range names {
		oldValue := oldFields[name]
		newValue := newFields[name]
		if oldValue != newValue {
			changed = append(changed, fieldChange{name: name, oldValue: oldValue, newValue: newValue})
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].name < changed[j].name })
	return changed
}

func decodeFields(raw json.RawMessage) map[string]string {
	fields := make(map[string]string)
	if len(raw) == 0 {
		return fields
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fields
	}
	for name, value := range generic {
		fields[name] = stringifyField(value)
	}
	return fields
}

func stringifyField(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
