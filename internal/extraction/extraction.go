package extraction

import (
	"context"
	"encoding/json"
)

// PageInfo is the structured result the extraction service produces for one
// drawing page. Info carries the service's field map unmodified; the diff
// stage compares it field by field.
type PageInfo struct {
	DrawingName string          `json:"drawing_name"`
	Info        json.RawMessage `json:"extracted_info"`
	Confidence  float64         `json:"confidence"`
}

// Extractor turns one page of a drawing version into structured data. The
// pipeline treats extraction as opaque; implementations may call a vision
// model, a local OCR engine, or a fixture in tests.
type Extractor interface {
	ExtractPage(ctx context.Context, versionID string, pageNumber int) (*PageInfo, error)
	HealthCheck(ctx context.Context) error
}
