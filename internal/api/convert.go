package api

import (
	"time"

	"blueline/internal/compare"
	"blueline/internal/stage"
)

// FromJob converts a job record to its API representation.
func FromJob(job *compare.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:              job.ID,
		OldVersionID:    job.OldVersionID,
		NewVersionID:    job.NewVersionID,
		Status:          string(job.Status),
		ErrorMessage:    job.Error,
		CancelRequested: job.CancelRequested,
		DiffDone:        job.DiffDone,
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = formatTime(*job.CompletedAt)
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*compare.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromChange converts a change record to its API representation.
func FromChange(record compare.ChangeRecord) Change {
	return Change{
		ID:          record.ID,
		DrawingCode: record.DrawingCode,
		Action:      string(record.Action),
		Category:    record.Category,
		Description: record.Description,
		Confidence:  record.Confidence,
	}
}

// FromChanges converts sorted change records into API DTOs.
func FromChanges(records []compare.ChangeRecord) []Change {
	if len(records) == 0 {
		return nil
	}
	out := make([]Change, 0, len(records))
	for _, record := range records {
		out = append(out, FromChange(record))
	}
	return out
}

// FromLog converts a per-version extraction log to its API representation.
func FromLog(log *compare.OcrLog) ExtractionLog {
	if log == nil {
		return ExtractionLog{}
	}
	dto := ExtractionLog{
		VersionID: log.VersionID,
		StartedAt: formatTime(log.StartedAt),
	}
	if log.CompletedAt != nil {
		dto.CompletedAt = formatTime(*log.CompletedAt)
	}
	for _, page := range log.Pages {
		dto.Pages = append(dto.Pages, LogPage{
			PageNumber:    page.PageNumber,
			DrawingName:   page.DrawingName,
			ExtractedInfo: page.ExtractedInfo,
			Confidence:    page.Confidence,
			Error:         page.Error,
			ProcessedAt:   formatTime(page.ProcessedAt),
		})
	}
	if log.Summary != nil {
		dto.Summary = &Summary{
			TotalPages:      log.Summary.TotalPages,
			DrawingsFound:   log.Summary.DrawingsFound,
			ProjectInfo:     log.Summary.ProjectInfo,
			ArchitectInfo:   log.Summary.ArchitectInfo,
			RevisionSummary: log.Summary.RevisionSummary,
		}
	}
	return dto
}

// FromDeadLetter converts a parked message record to its API representation.
func FromDeadLetter(record compare.DeadLetterRecord) DeadLetter {
	return DeadLetter{
		ID:         record.ID,
		Topic:      record.Topic,
		Stage:      record.Stage,
		JobID:      record.JobID,
		VersionID:  record.VersionID,
		PageNumber: record.PageNumber,
		Attempt:    record.Attempt,
		LastError:  record.LastError,
		FailedAt:   formatTime(record.FailedAt),
	}
}

// FromDeadLetters converts dead-letter records into API DTOs.
func FromDeadLetters(records []compare.DeadLetterRecord) []DeadLetter {
	if len(records) == 0 {
		return nil
	}
	out := make([]DeadLetter, 0, len(records))
	for _, record := range records {
		out = append(out, FromDeadLetter(record))
	}
	return out
}

// FromStageHealth converts stage health snapshots into API DTOs.
func FromStageHealth(items []stage.Health) []StageHealth {
	if len(items) == 0 {
		return nil
	}
	out := make([]StageHealth, 0, len(items))
	for _, item := range items {
		out = append(out, StageHealth{Name: item.Name, Ready: item.Ready, Detail: item.Detail})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
