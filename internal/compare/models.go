package compare

import (
	"encoding/json"
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a comparison job.
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobOCRRunning     JobStatus = "ocr_running"
	JobDiffRunning    JobStatus = "diff_running"
	JobSummaryRunning JobStatus = "summary_running"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobCancelled      JobStatus = "cancelled"
)

var allJobStatuses = []JobStatus{
	JobPending,
	JobOCRRunning,
	JobDiffRunning,
	JobSummaryRunning,
	JobCompleted,
	JobFailed,
	JobCancelled,
}

// statusRank orders statuses so transitions can be checked for monotonicity.
// Terminal statuses share the highest rank; a job never leaves them.
var statusRank = map[JobStatus]int{
	JobPending:        0,
	JobOCRRunning:     1,
	JobDiffRunning:    2,
	JobSummaryRunning: 3,
	JobCompleted:      4,
	JobFailed:         4,
	JobCancelled:      4,
}

// AllJobStatuses returns the ordered list of known statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := statusRank[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// IsTerminal reports whether a status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// IsRunning reports whether a status reflects an in-flight pipeline stage.
func (s JobStatus) IsRunning() bool {
	switch s {
	case JobOCRRunning, JobDiffRunning, JobSummaryRunning:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one status to another preserves
// the monotonic lifecycle. Terminal states accept no further transitions.
func CanTransition(from, to JobStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	return toRank > fromRank
}

// Job is one comparison request spanning two drawing versions. Status is
// owned exclusively by the orchestrator; workers emit events instead of
// writing it.
type Job struct {
	ID              string
	OldVersionID    string
	NewVersionID    string
	Status          JobStatus
	Error           string
	CancelRequested bool
	DiffDispatched  bool
	DiffDone        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// VersionIDs returns both version identifiers, old side first.
func (j *Job) VersionIDs() [2]string {
	return [2]string{j.OldVersionID, j.NewVersionID}
}

// OCRStatus represents the extraction lifecycle of one drawing version.
type OCRStatus string

const (
	OCRPending    OCRStatus = "pending"
	OCRInProgress OCRStatus = "in_progress"
	OCRCompleted  OCRStatus = "completed"
	OCRFailed     OCRStatus = "failed"
)

// DrawingVersion is one uploaded document, the old or new side of a job.
// The upload collaborator registers it with page count and content hash;
// the OCR worker owns the ocr_* fields afterward.
type DrawingVersion struct {
	ID             string
	JobID          string
	OCRStatus      OCRStatus
	OCRResultRef   string
	FileHash       string
	PageCount      int
	OCRCompletedAt *time.Time
}

// PageEntry is one page's extraction result, keyed by page number within a
// version. Entries are immutable once written; redelivery must observe
// first-write-wins.
type PageEntry struct {
	VersionID     string          `json:"-"`
	PageNumber    int             `json:"page_number"`
	DrawingName   string          `json:"drawing_name,omitempty"`
	ExtractedInfo json.RawMessage `json:"extracted_info,omitempty"`
	Confidence    float64         `json:"confidence,omitempty"`
	Error         string          `json:"error,omitempty"`
	ProcessedAt   time.Time       `json:"processed_at"`
}

// Failed reports whether the page carries a permanent extraction error marker.
func (p PageEntry) Failed() bool {
	return strings.TrimSpace(p.Error) != ""
}

// OcrLog is the per-version structured record of page results and the derived
// summary, readable incrementally while extraction is still running.
type OcrLog struct {
	VersionID   string      `json:"drawing_version_id"`
	StartedAt   time.Time   `json:"started_at"`
	Pages       []PageEntry `json:"pages"`
	Summary     *Summary    `json:"summary,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Page returns the entry for a page number, or nil when absent.
func (l *OcrLog) Page(number int) *PageEntry {
	for i := range l.Pages {
		if l.Pages[i].PageNumber == number {
			return &l.Pages[i]
		}
	}
	return nil
}

// Complete reports whether every page in 1..pageCount has an entry.
func (l *OcrLog) Complete(pageCount int) bool {
	if pageCount <= 0 {
		return false
	}
	present := make(map[int]struct{}, len(l.Pages))
	for _, page := range l.Pages {
		present[page.PageNumber] = struct{}{}
	}
	for n := 1; n <= pageCount; n++ {
		if _, ok := present[n]; !ok {
			return false
		}
	}
	return true
}

// Summary aggregates a job's page entries and change records.
type Summary struct {
	TotalPages      int      `json:"total_pages"`
	DrawingsFound   []string `json:"drawings_found"`
	ProjectInfo     string   `json:"project_info,omitempty"`
	ArchitectInfo   string   `json:"architect_info,omitempty"`
	RevisionSummary string   `json:"revision_summary"`
}

// DeadLetterRecord is a message that exceeded its retry budget. Terminal;
// requires operator replay.
type DeadLetterRecord struct {
	ID         int64
	Topic      string
	Stage      string
	JobID      string
	VersionID  string
	PageNumber int
	Attempt    int
	LastError  string
	FailedAt   time.Time
}
