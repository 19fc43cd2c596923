package compare

import (
	"sort"
	"strings"
)

// ChangeAction classifies a detected difference between two drawing versions.
type ChangeAction string

const (
	ActionRemoved  ChangeAction = "removed"
	ActionModified ChangeAction = "modified"
	ActionAdded    ChangeAction = "added"
)

// actionRank fixes the tie-break order for changes sharing a drawing code.
var actionRank = map[ChangeAction]int{
	ActionRemoved:  0,
	ActionModified: 1,
	ActionAdded:    2,
}

// ParseChangeAction converts a string into a known ChangeAction.
func ParseChangeAction(value string) (ChangeAction, bool) {
	normalized := ChangeAction(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := actionRank[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// ChangeRecord is one detected difference between the old and new versions of
// a job. Immutable after creation; produced only by the diff stage.
type ChangeRecord struct {
	ID          string       `json:"change_id"`
	JobID       string       `json:"-"`
	DrawingCode string       `json:"drawing_code"`
	Action      ChangeAction `json:"action"`
	Category    string       `json:"category"`
	Description string       `json:"description"`
	Confidence  float64      `json:"confidence"`
	// Position preserves insertion order so sorting stays stable across
	// store round trips.
	Position int `json:"-"`
}

// SortChanges orders records by drawing code ascending, then action in the
// fixed order removed, modified, added, then insertion order.
func SortChanges(records []ChangeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].DrawingCode != records[j].DrawingCode {
			return records[i].DrawingCode < records[j].DrawingCode
		}
		ri, rj := actionRank[records[i].Action], actionRank[records[j].Action]
		if ri != rj {
			return ri < rj
		}
		return records[i].Position < records[j].Position
	})
}

// NormalizeDrawingCode canonicalizes a drawing name for cross-version
// matching: trimmed, upper-cased, inner whitespace collapsed.
func NormalizeDrawingCode(name string) string {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(name)))
	return strings.Join(fields, " ")
}
