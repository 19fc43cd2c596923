package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitRequest is the payload for creating a comparison job.
type SubmitRequest struct {
	OldVersion VersionInput `json:"oldVersion"`
	NewVersion VersionInput `json:"newVersion"`
}

// VersionInput identifies one drawing version being submitted.
type VersionInput struct {
	ID        string `json:"id"`
	PageCount int    `json:"pageCount"`
	FileHash  string `json:"fileHash,omitempty"`
}

// SubmitResponse carries the identifier of a freshly created job.
type SubmitResponse struct {
	JobID string `json:"jobId"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	JobID     string `json:"jobId"`
	Cancelled bool   `json:"cancelled"`
}

// RetryResponse reports the outcome of a dead-letter replay.
type RetryResponse struct {
	ID    int64  `json:"id"`
	JobID string `json:"jobId"`
	Topic string `json:"topic"`
}

// Job describes a comparison job in a transport-friendly format.
type Job struct {
	ID              string `json:"id"`
	OldVersionID    string `json:"oldVersionId"`
	NewVersionID    string `json:"newVersionId"`
	Status          string `json:"status"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	CancelRequested bool   `json:"cancelRequested"`
	DiffDone        bool   `json:"diffDone"`
	CreatedAt       string `json:"createdAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
	CompletedAt     string `json:"completedAt,omitempty"`
}

// JobDetail couples a job with its detected changes.
type JobDetail struct {
	Job     Job      `json:"job"`
	Changes []Change `json:"changes,omitempty"`
}

// Change describes one detected difference between drawing versions.
type Change struct {
	ID          string  `json:"changeId"`
	DrawingCode string  `json:"drawingCode"`
	Action      string  `json:"action"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// ExtractionLog mirrors a per-version extraction log, readable while the
// pipeline is still running. The log endpoint keeps the snake_case keys the
// on-disk log format uses, so saved responses and stored logs line up.
type ExtractionLog struct {
	VersionID   string    `json:"drawing_version_id"`
	StartedAt   string    `json:"started_at,omitempty"`
	CompletedAt string    `json:"completed_at,omitempty"`
	Pages       []LogPage `json:"pages"`
	Summary     *Summary  `json:"summary,omitempty"`
}

// LogPage is one page's extraction result.
type LogPage struct {
	PageNumber    int             `json:"page_number"`
	DrawingName   string          `json:"drawing_name,omitempty"`
	ExtractedInfo json.RawMessage `json:"extracted_info,omitempty"`
	Confidence    float64         `json:"confidence,omitempty"`
	Error         string          `json:"error,omitempty"`
	ProcessedAt   string          `json:"processed_at,omitempty"`
}

// Summary aggregates a job's extraction and diff results.
type Summary struct {
	TotalPages      int      `json:"total_pages"`
	DrawingsFound   []string `json:"drawings_found"`
	ProjectInfo     string   `json:"project_info,omitempty"`
	ArchitectInfo   string   `json:"architect_info,omitempty"`
	RevisionSummary string   `json:"revision_summary"`
}

// DeadLetter describes a parked message awaiting operator replay.
type DeadLetter struct {
	ID         int64  `json:"id"`
	Topic      string `json:"topic"`
	Stage      string `json:"stage"`
	JobID      string `json:"jobId"`
	VersionID  string `json:"versionId,omitempty"`
	PageNumber int    `json:"pageNumber,omitempty"`
	Attempt    int    `json:"attempt"`
	LastError  string `json:"lastError,omitempty"`
	FailedAt   string `json:"failedAt,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Status summarizes daemon execution state.
type Status struct {
	Running     bool           `json:"running"`
	JobStats    map[string]int `json:"jobStats"`
	QueueDepths map[string]int `json:"queueDepths"`
	StageHealth []StageHealth  `json:"stageHealth"`
}
