package compare

// Stage names shared between the broker topics, workers, and events.
const (
	StageOCR     = "ocr"
	StageDiff    = "diff"
	StageSummary = "summary"
)

// EventOutcome classifies a stage event.
type EventOutcome string

const (
	OutcomeSuccess     EventOutcome = "success"
	OutcomeFailure     EventOutcome = "failure"
	OutcomePageFailure EventOutcome = "page_failure"
)

// StageEvent is emitted by stage workers and the dead-letter router and
// folded into job status transitions by the orchestrator.
type StageEvent struct {
	JobID      string
	Stage      string
	Outcome    EventOutcome
	Message    string
	VersionID  string
	PageNumber int
}
